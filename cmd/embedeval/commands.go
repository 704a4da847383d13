package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	debug  bool
	input  string
	schema string
	model  string

	// evaluate
	poolSize        int
	ks              []int
	typesFile       string
	onlyTypes       []string
	seed            int64
	workers         int
	continueOnError bool
	csvOut          string
	jsonOut         string
	metricsFile     string
	saveRun         bool

	// corpus merge
	required   []string
	noFlagFold bool
	noBypass   bool

	// similarity
	simTarget  string
	simMatches []string
	simExtras  []string
	simOut     string

	// ingest
	docsFile       string
	baseURL        string
	dimensions     int
	batchSize      int
	concurrency    int
	requestsPerSec float64
	skipExisting   bool
	rawText        bool

	rootCmd = &cobra.Command{
		Use:   "embedeval",
		Short: "Measure how well code embeddings survive compiler transformations",
		Long: `embedeval builds retrieval tasks from a corpus of function embeddings
and scores them with MRR and Recall@k, one comparison type at a time.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	evaluateCmd = &cobra.Command{
		Use:     "evaluate",
		Short:   "Sample retrieval tasks and report MRR and Recall@k per comparison type",
		Aliases: []string{"eval"},
		Args:    cobra.NoArgs,
		RunE:    runEvaluate, // Defined in cmd_evaluate.go
	}

	similarityCmd = &cobra.Command{
		Use:   "similarity",
		Short: "Report per-group cosine similarity between a target variant and its transforms",
		Args:  cobra.NoArgs,
		RunE:  runSimilarity, // Defined in cmd_similarity.go
	}

	ingestCmd = &cobra.Command{
		Use:   "ingest",
		Short: "Embed per-variant documents and store the vectors in Postgres",
		Args:  cobra.NoArgs,
		RunE:  runIngest, // Defined in cmd_ingest.go
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the embedeval tables in a Postgres schema",
		Args:  cobra.NoArgs,
		RunE:  runMigrate, // Defined in cmd_migrate.go
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&debug, "debug", "d", false, "log at debug level")
	pf.StringVarP(&input, "input", "i", "", "corpus JSONL file, or a postgres:// DSN")
	pf.StringVar(&schema, "schema", "embedeval", "Postgres schema holding the embedeval tables")
	pf.StringVar(&model, "model", "", "embedding model name (required for Postgres input and ingest)")

	for _, c := range []*cobra.Command{evaluateCmd, similarityCmd} {
		f := c.Flags()
		f.StringSliceVar(&required, "required", nil, "drop entities missing any of these variants")
		f.BoolVar(&noFlagFold, "no-flag-fold", false, "keep *_splitFlag records as entities of their own")
		f.BoolVar(&noBypass, "no-bypass", false, "keep compiler startup stubs such as _start")
	}

	f := evaluateCmd.Flags()
	f.IntVarP(&poolSize, "pool", "p", 32, "candidates per retrieval task")
	f.IntSliceVar(&ks, "ks", []int{1, 2, 5, 10}, "recall cutoffs (1 is always included)")
	f.StringVar(&typesFile, "types", "", "YAML file of comparison types (default: the built-in O0..O3 split types)")
	f.StringSliceVar(&onlyTypes, "only", nil, "evaluate only these comparison types, in this order")
	f.Int64Var(&seed, "seed", 0, "sampling seed (0 picks one from the clock)")
	f.IntVar(&workers, "workers", 0, "concurrent scoring goroutines (default GOMAXPROCS)")
	f.BoolVar(&continueOnError, "continue-on-error", false, "report a failed comparison type and keep going")
	f.StringVar(&csvOut, "csv", "", "write per-type results as CSV to this path")
	f.StringVar(&jsonOut, "json", "", "write the full report as JSON to this path")
	f.StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics in textfile format to this path")
	f.BoolVar(&saveRun, "save", false, "store the report in Postgres (requires a postgres:// input)")

	f = similarityCmd.Flags()
	f.StringVar(&simTarget, "target", "O0", "reference variant")
	f.StringSliceVar(&simMatches, "match", []string{"O0_split", "O0_splitFlag"}, "variants summarized as max/avg/min")
	f.StringSliceVar(&simExtras, "extra", nil, "variants reported individually, e.g. an obfuscated build")
	f.StringVarP(&simOut, "out", "o", "", "CSV output path (default stdout)")

	f = ingestCmd.Flags()
	f.StringVar(&docsFile, "docs", "", "JSONL file of {group,id,variant,text} documents")
	f.StringVar(&baseURL, "base-url", "", "OpenAI-compatible API base URL")
	f.IntVar(&dimensions, "dimensions", 0, "requested embedding dimensions (0 = provider default)")
	f.IntVar(&batchSize, "batch", 25, "documents per embedding request")
	f.IntVar(&concurrency, "concurrency", 8, "concurrent embedding requests")
	f.Float64Var(&requestsPerSec, "rps", 0, "max embedding requests per second (0 = unlimited)")
	f.BoolVar(&skipExisting, "skip-existing", false, "skip documents that already have a stored vector")
	f.BoolVar(&rawText, "raw-text", false, "embed documents without whitespace/Unicode normalization")
	_ = ingestCmd.MarkFlagRequired("docs")
	_ = ingestCmd.MarkFlagRequired("base-url")

	rootCmd.AddCommand(evaluateCmd, similarityCmd, ingestCmd, migrateCmd)
}
