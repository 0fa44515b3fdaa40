package service

import (
	"strconv"
	"strings"

	"bookrag/internal/domain"
)

// NoResultsAnswer is returned, without calling the generator, when no chunk
// clears the relevance threshold.
const NoResultsAnswer = "No encuentro información relevante en este libro para responder tu pregunta."

// systemPromptTemplate restricts the model to the numbered context and asks
// for inline [N] citations. {context} is replaced by BuildContext output.
const systemPromptTemplate = `Eres un asistente experto en formación que responde preguntas basándose EXCLUSIVAMENTE en el contenido del libro proporcionado.

Reglas estrictas:
- Responde SOLO con información presente en el contexto proporcionado
- Si la respuesta no está en el contexto, di: "No encuentro esa información en este libro."
- Responde siempre en español
- Sé conciso pero completo
- Si el contexto contiene pasos o listas, mantén esa estructura en tu respuesta
- Cita las fuentes usando [N] junto a cada afirmación (ej: "El pruning reduce el tamaño del modelo [1].")
- Puedes combinar información de varias fuentes en una misma frase citando todas (ej: [1][3])
- NO inventes información que no esté en el contexto
- NO uses conocimiento externo

Contexto del libro:
{context}`

// BuildContext numbers the hits from 1 in the given order and returns the
// context text together with the matching sources.
func BuildContext(hits []domain.RetrievedChunk) (string, []domain.Source) {
	parts := make([]string, len(hits))
	sources := make([]domain.Source, len(hits))
	for i, h := range hits {
		parts[i] = "[" + strconv.Itoa(i+1) + "] " + h.Content
		sources[i] = domain.NewSource(h)
	}
	return strings.Join(parts, "\n\n"), sources
}

// SystemPrompt embeds the numbered context into the answering instructions.
func SystemPrompt(context string) string {
	return strings.Replace(systemPromptTemplate, "{context}", context, 1)
}
