package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/askd/internal/vectorstore"
)

const defaultChunkChars = 2000

func newIngestCmd() *cobra.Command {
	var chunkChars int
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Add documents to the vector knowledge base",
		Long: `Add text documents to the vector knowledge base searched by the vector tool.

Files are split on blank lines into chunks of at most --chunk-chars characters.
Use "-" to read from stdin. Re-ingesting a file replaces chunks with the same ids.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			a, err := newBaseApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			store, err := a.openVectorStore(ctx)
			if err != nil {
				return err
			}

			total := 0
			for _, path := range args {
				docs, err := readDocuments(cmd.InOrStdin(), path, chunkChars)
				if err != nil {
					return err
				}
				if len(docs) == 0 {
					continue
				}
				if _, err := store.Add(ctx, docs); err != nil {
					return fmt.Errorf("ingesting %s: %w", path, err)
				}
				a.logger.Info("ingested", zap.String("source", path), zap.Int("chunks", len(docs)))
				total += len(docs)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d chunks from %d sources\n", total, len(args))
			return nil
		},
	}
	cmd.Flags().IntVar(&chunkChars, "chunk-chars", defaultChunkChars, "maximum characters per chunk")
	return cmd
}

func readDocuments(stdin io.Reader, path string, chunkChars int) ([]vectorstore.Document, error) {
	var (
		data []byte
		err  error
	)
	source := path
	if path == "-" {
		source = "stdin"
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", source, err)
	}

	chunks := chunkText(string(data), chunkChars)
	docs := make([]vectorstore.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = vectorstore.Document{
			ID:      fmt.Sprintf("%s#%d", source, i),
			Content: c,
			Metadata: map[string]any{
				"source": source,
				"title":  strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)),
				"chunk":  i,
			},
		}
	}
	return docs, nil
}

// chunkText packs blank-line separated paragraphs into chunks of at most
// limit bytes. A paragraph longer than limit is split on rune boundaries.
func chunkText(text string, limit int) []string {
	if limit <= 0 {
		limit = defaultChunkChars
	}
	var (
		chunks []string
		cur    strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, piece := range splitRunes(para, limit) {
			if cur.Len() > 0 && cur.Len()+2+len(piece) > limit {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(piece)
		}
	}
	flush()
	return chunks
}

func splitRunes(s string, limit int) []string {
	if len(s) <= limit {
		return []string{s}
	}
	var out []string
	runes := []rune(s)
	for len(runes) > 0 {
		n := 0
		size := 0
		for n < len(runes) && size+len(string(runes[n])) <= limit {
			size += len(string(runes[n]))
			n++
		}
		if n == 0 {
			n = 1
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
