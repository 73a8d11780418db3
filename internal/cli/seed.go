package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/examprep/examprep/pkg/config"
	"github.com/examprep/examprep/pkg/store"
	"github.com/examprep/examprep/pkg/taxonomy"
)

// seedCommand creates the seed command, which loads a TOML question bank
// into the configured store.
func (c *CLI) seedCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "seed <file.toml>",
		Short: "Load a question bank into the store",
		Long: `Validate a TOML question bank and upsert its questions and taxonomy into
the configured store. Entries are keyed by question id and by
subject/topic/subtopic, so seeding the same file twice is harmless.

With the memory store nothing outlives the command; use --dry-run to only
validate, or point store.backend at MongoDB.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runSeed(cmd.Context(), args[0], dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and summarize without writing")

	return cmd
}

func (c *CLI) runSeed(ctx context.Context, path string, dryRun bool) error {
	seed, err := store.LoadSeed(path)
	if err != nil {
		return err
	}

	tree := taxonomy.Build(seed.Entries())
	printSuccess("%s is valid", path)
	printKeyValue("questions", fmt.Sprint(len(seed.Questions)))
	printKeyValue("subjects", fmt.Sprint(len(tree)))
	for _, s := range tree {
		printDetail("%s (%d topics)", s.Name, len(s.Topics))
	}
	if dryRun {
		return nil
	}

	cfg, err := c.loadConfig(func(cfg *config.Config) {
		cfg.Server.AppAPI = false
		cfg.Store.SeedFile = ""
	})
	if err != nil {
		return err
	}
	if cfg.Store.Backend != "mongo" {
		printWarning("store.backend is %q; nothing was written", cfg.Store.Backend)
		printNextStep("Serve this bank from memory", "EXAMPREP_SEED="+path+" examprep serve")
		return nil
	}
	if cfg.Store.MongoURI == "" {
		return fmt.Errorf("store.backend = mongo requires store.mongo_uri or MONGO_URI")
	}

	prog := newProgress(c.Logger)
	st, err := c.openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close(context.WithoutCancel(ctx))

	if err := seed.Apply(ctx, st); err != nil {
		return err
	}
	prog.done(fmt.Sprintf("Seeded %d questions into %s", len(seed.Questions), cfg.Store.Database))
	return nil
}
