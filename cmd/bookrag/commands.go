package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"bookrag/internal/domain"
	"bookrag/internal/service"
	"bookrag/internal/tui"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ingestCmd() *cobra.Command {
	var (
		dir    string
		force  bool
		all    bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ingest [book]",
		Short: "Chunk, embed and index a book's markdown files",
		Long: `Indexes every .md file directly inside the book folder (docs_dir/<book> unless
--dir is given). An already indexed book is left alone unless --force is set.
With --all, every subfolder of docs_dir is scanned and indexed when missing.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("give either a book id or --all")
			}
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			if all {
				results, err := a.ingest.IngestAll(cmd.Context(), a.cfg.DocsDir)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(results)
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SLUG\tSTATUS\tCHUNKS\tFILES\tERROR")
				for _, r := range results {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.Slug, r.Status, r.ChunksCount, r.FilesCount, r.Error)
				}
				return tw.Flush()
			}

			res := a.ingest.Ingest(cmd.Context(), args[0], dir, force)
			if asJSON {
				if err := printJSON(res); err != nil {
					return err
				}
			} else if res.Status == domain.StatusReady {
				fmt.Printf("%s: %d chunks from %d files\n", res.BookID, res.ChunksCount, res.FilesProcessed)
			}
			return res.Err
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "folder with the book's markdown files")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing index")
	cmd.Flags().BoolVar(&all, "all", false, "index every book folder under docs_dir")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func statusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <book>",
		Short: "Show whether a book is indexed and how many chunks it has",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()
			st, err := a.ingest.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(st)
			}
			fmt.Printf("%s: %s (%d chunks)\n", st.BookID, st.Status, st.ChunksCount)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <book>",
		Short: "Remove a book's index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()
			deleted, err := a.ingest.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("book %q: %w", args[0], domain.ErrNotFound)
			}
			fmt.Printf("%s: deleted\n", args[0])
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	var (
		onDisk bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexed books",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			if onDisk {
				subjects, err := service.Discover(a.cfg.DocsDir)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(subjects)
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SLUG\tNAME\tFILES")
				for _, s := range subjects {
					fmt.Fprintf(tw, "%s\t%s\t%d\n", s.Slug, s.Name, s.FileCount)
				}
				return tw.Flush()
			}

			books, err := a.ingest.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(books)
			}
			for _, b := range books {
				fmt.Println(b)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&onDisk, "docs", false, "list book folders found under docs_dir instead")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func askCmd() *cobra.Command {
	var (
		stream bool
		sse    bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "ask <book> <question...>",
		Short: "Answer a question from a book's content",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()
			book, question := args[0], strings.Join(args[1:], " ")

			if !stream && !sse {
				resp, err := a.rag.Answer(ctx, book, question)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(resp)
				}
				fmt.Println(resp.Answer)
				printSources(resp.Sources)
				return nil
			}

			seq, err := a.rag.Stream(ctx, book, question)
			if err != nil {
				return err
			}
			var sources []domain.StreamSource
			for ev := range seq {
				if sse {
					if err := service.WriteSSE(os.Stdout, ev); err != nil {
						return err
					}
					continue
				}
				switch ev.Type {
				case domain.EventSources:
					sources = ev.Sources
				case domain.EventToken:
					fmt.Print(ev.Token)
				case domain.EventDone:
					fmt.Println()
					printStreamSources(sources)
				case domain.EventError:
					fmt.Println()
					return ev.Err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "print the answer as it is generated")
	cmd.Flags().BoolVar(&sse, "sse", false, "write the stream as server-sent events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full answer as JSON")
	return cmd
}

func printSources(sources []domain.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Println("\nFuentes:")
	for i, s := range sources {
		fmt.Printf("  [%d] %s%s (%.3f)\n", i+1, s.SourceFile, headings(s.Titulo, s.Seccion, s.Subseccion), s.Score)
	}
}

func printStreamSources(sources []domain.StreamSource) {
	if len(sources) == 0 {
		return
	}
	fmt.Println("\nFuentes:")
	for i, s := range sources {
		fmt.Printf("  [%d] %s%s (%.3f)\n", i+1, s.SourceFile, headings(s.Titulo, s.Seccion), s.Score)
	}
}

func headings(hs ...*string) string {
	var b strings.Builder
	for _, h := range hs {
		if h != nil {
			b.WriteString(" › ")
			b.WriteString(*h)
		}
	}
	return b.String()
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <book>",
		Short: "Interactive chat over one book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// the alt screen owns the terminal, so logs go to a file
			f, err := os.OpenFile(filepath.Join(os.TempDir(), "bookrag-chat.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				return err
			}
			defer f.Close()
			logOutput = f

			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()
			ok, err := a.store.Exists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("book %q is not indexed: %w", args[0], domain.ErrNotFound)
			}
			p := tea.NewProgram(tui.New(a.rag, args[0]), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err = p.Run()
			return err
		},
	}
}
