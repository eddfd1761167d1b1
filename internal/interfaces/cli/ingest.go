package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jhoicas/warehouse-monitor/internal/application/ingest"
)

// maxLine tamaño máximo de un sobre en el archivo.
const maxLine = 1 << 20

// IngestOptions opciones del comando ingest.
type IngestOptions struct {
	*RootOptions
	File string
}

// NewIngestCommand reprocesa sobres JSON (uno por línea) con el mismo pipeline que el consumidor.
func NewIngestCommand(root *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Reprocesa eventos desde un archivo JSONL",
		Long: `Lee un sobre por línea desde --file (o stdin con "-") y lo pasa por
normalización, reconciliación y dead-letter igual que el consumidor del stream.`,
		Example: `  warehouse-monitor ingest --file backfill.jsonl
  cat eventos.jsonl | warehouse-monitor ingest --file -`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "archivo JSONL o - para stdin")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runIngest(cmd *cobra.Command, opts *IngestOptions) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var in io.Reader
	topic := "file:" + opts.File
	if opts.File == "-" {
		in = cmd.InOrStdin()
		topic = "stdin"
	} else {
		f, err := os.Open(opts.File)
		if err != nil {
			return fmt.Errorf("abrir %s: %w", opts.File, err)
		}
		defer f.Close()
		in = f
	}

	a, err := buildApp(ctx, opts.cfg, opts.log)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := replay(ctx, a.pipeline, in, topic)
	opts.log.Info().Str("source", topic).Int("messages", n).Msg("ingesta desde archivo terminada")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d mensajes procesados\n", n)
	return nil
}

// replay pasa cada línea no vacía por el pipeline. El offset es el número de línea.
func replay(ctx context.Context, p *ingest.Pipeline, in io.Reader, topic string) (int, error) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)

	n := 0
	for line := int64(1); sc.Scan(); line++ {
		value := bytes.TrimSpace(sc.Bytes())
		if len(value) == 0 {
			continue
		}
		msg := ingest.Message{Topic: topic, Offset: line, Value: bytes.Clone(value)}
		if err := p.Handle(ctx, msg); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("leer %s: %w", topic, err)
	}
	return n, nil
}
