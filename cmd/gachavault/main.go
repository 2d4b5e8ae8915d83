// Package main is the gachavault command line entry point.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"gachavault/config"
	"gachavault/internal/app"
	"gachavault/internal/core"
	"gachavault/internal/logging"
	"gachavault/internal/orchestrator"
	"gachavault/internal/uigf"
	"gachavault/internal/version"
)

const usage = `Usage: gachavault <command> [flags]

Commands:
  urls      Recover gacha authorization URLs from the local browser cache
  validate  Confirm which recovered URL belongs to an account
  pull      Fetch the account's gacha history from the remote API
  records   List stored gacha records
  import    Import records from a UIGF/SRGF file
  export    Export stored records to a UIGF/SRGF file
  serve     Run the HTTP server
  version   Print version information

Run "gachavault <command> -h" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "urls":
		err = cmdURLs(args)
	case "validate":
		err = cmdValidate(args)
	case "pull":
		err = cmdPull(args)
	case "records":
		err = cmdRecords(args)
	case "import":
		err = cmdImport(args)
	case "export":
		err = cmdExport(args)
	case "serve":
		err = cmdServe(args)
	case "version":
		fmt.Println(version.Info())
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// commonFlags registers the flags every subcommand shares.
type commonFlags struct {
	configPath string
	logLevel   string
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	cf := &commonFlags{}
	fs.StringVar(&cf.configPath, "config", "", "path to config.yaml")
	fs.StringVar(&cf.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	return cf
}

// setup loads configuration, installs logging and assembles the app.
func setup(cf *commonFlags) (*app.App, *config.Config, error) {
	cfg, err := config.Load(cf.configPath)
	if err != nil {
		return nil, nil, err
	}
	if cf.logLevel != "" {
		cfg.Logging.Level = cf.logLevel
	}
	logging.Setup(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

func teardown(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Shutdown(ctx)
}

func parseFacetFlag(s string) (core.Facet, error) {
	if s == "" {
		return "", fmt.Errorf("-facet is required (genshin, starrail or zzz)")
	}
	return core.ParseFacet(s)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdURLs(args []string) error {
	fs := flag.NewFlagSet("urls", flag.ExitOnError)
	cf := registerCommon(fs)
	facetName := fs.String("facet", "", "game facet")
	all := fs.Bool("all", false, "include expired URLs")
	_ = fs.Parse(args)

	facet, err := parseFacetFlag(*facetName)
	if err != nil {
		return err
	}
	a, _, err := setup(cf)
	if err != nil {
		return err
	}
	defer teardown(a)

	urls, err := a.URLSource().FindGachaURLs(facet, !*all)
	if err != nil {
		return err
	}
	return printJSON(urls)
}

func cmdValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cf := registerCommon(fs)
	facetName := fs.String("facet", "", "game facet")
	uid := fs.String("uid", "", "account uid")
	_ = fs.Parse(args)

	facet, err := parseFacetFlag(*facetName)
	if err != nil {
		return err
	}
	if *uid == "" {
		return fmt.Errorf("-uid is required")
	}
	a, _, err := setup(cf)
	if err != nil {
		return err
	}
	defer teardown(a)

	candidates, err := a.URLSource().FindGachaURLs(facet, true)
	if err != nil {
		return err
	}
	url, err := a.Validator().Validate(context.Background(), facet, *uid, candidates)
	if err != nil {
		return err
	}
	return printJSON(url)
}

func cmdPull(args []string) error {
	fs := flag.NewFlagSet("pull", flag.ExitOnError)
	cf := registerCommon(fs)
	facetName := fs.String("facet", "", "game facet")
	uid := fs.String("uid", "", "account uid")
	gachaURL := fs.String("url", "", "authorization URL (recovered and validated when empty)")
	fullResync := fs.Bool("full", false, "refetch everything and reconcile the store")
	noSave := fs.Bool("no-save", false, "fetch without persisting")
	yes := fs.Bool("yes", false, "skip the full-resync confirmation prompt")
	_ = fs.Parse(args)

	facet, err := parseFacetFlag(*facetName)
	if err != nil {
		return err
	}
	if *uid == "" {
		return fmt.Errorf("-uid is required")
	}

	// A full resync deletes stored records the remote no longer reports,
	// so make sure that is what the user wants.
	if *fullResync && !*noSave && !*yes {
		ok, err := confirm(fmt.Sprintf(
			"A full resync may delete stored records for uid %s that the remote API no longer returns. Continue? [y/N] ", *uid))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("aborted")
		}
	}

	a, _, err := setup(cf)
	if err != nil {
		return err
	}
	defer teardown(a)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	url := *gachaURL
	if url == "" {
		candidates, err := a.URLSource().FindGachaURLs(facet, true)
		if err != nil {
			return err
		}
		validated, err := a.Validator().Validate(ctx, facet, *uid, candidates)
		if err != nil {
			return err
		}
		url = validated.Value
	}

	sink := core.ProgressFunc(func(ev core.Progress) {
		if ev.Done {
			return
		}
		fmt.Fprintf(os.Stderr, "  %s page %d: %d records\n", ev.GachaType, ev.Page, ev.Fetched)
	})
	result, err := a.Orchestrator().PullAll(ctx, orchestrator.Options{
		Facet:       facet,
		UID:         *uid,
		GachaURL:    url,
		FullResync:  *fullResync,
		SaveToStore: !*noSave,
	}, sink)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdRecords(args []string) error {
	fs := flag.NewFlagSet("records", flag.ExitOnError)
	cf := registerCommon(fs)
	facetName := fs.String("facet", "", "game facet")
	uid := fs.String("uid", "", "account uid")
	gachaType := fs.String("type", "", "limit to one gacha type")
	limit := fs.Int("limit", 0, "maximum records to print (0 = all)")
	_ = fs.Parse(args)

	facet, err := parseFacetFlag(*facetName)
	if err != nil {
		return err
	}
	if *uid == "" {
		return fmt.Errorf("-uid is required")
	}
	a, _, err := setup(cf)
	if err != nil {
		return err
	}
	defer teardown(a)

	records, err := a.Records().Find(context.Background(), facet, *uid,
		core.FindFilter{GachaType: *gachaType, Limit: *limit})
	if err != nil {
		return err
	}
	return printJSON(records)
}

func cmdImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	cf := registerCommon(fs)
	facetName := fs.String("facet", "", "game facet")
	uid := fs.String("uid", "", "account uid")
	file := fs.String("file", "", "UIGF/SRGF file to import (.json or .json.br)")
	_ = fs.Parse(args)

	facet, err := parseFacetFlag(*facetName)
	if err != nil {
		return err
	}
	if *uid == "" {
		return fmt.Errorf("-uid is required")
	}
	if *file == "" {
		return fmt.Errorf("-file is required")
	}
	a, _, err := setup(cf)
	if err != nil {
		return err
	}
	defer teardown(a)

	records, err := uigf.ImportFile(*file, facet, *uid)
	if err != nil {
		return err
	}
	inserted, err := a.Records().Save(context.Background(), facet, records)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d of %d records\n", inserted, len(records))
	return nil
}

func cmdExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cf := registerCommon(fs)
	facetName := fs.String("facet", "", "game facet")
	uid := fs.String("uid", "", "account uid")
	dir := fs.String("dir", ".", "output directory")
	compress := fs.Bool("compress", false, "brotli-compress the export (.json.br)")
	_ = fs.Parse(args)

	facet, err := parseFacetFlag(*facetName)
	if err != nil {
		return err
	}
	if *uid == "" {
		return fmt.Errorf("-uid is required")
	}
	a, _, err := setup(cf)
	if err != nil {
		return err
	}
	defer teardown(a)

	records, err := a.Records().Find(context.Background(), facet, *uid, core.FindFilter{})
	if err != nil {
		return err
	}
	path, err := uigf.ExportFile(*dir, facet, *uid, "", records, time.Now(), *compress)
	if err != nil {
		return err
	}
	fmt.Printf("exported %d records to %s\n", len(records), path)
	return nil
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cf := registerCommon(fs)
	port := fs.String("port", "", "listen port (overrides config)")
	_ = fs.Parse(args)

	a, cfg, err := setup(cf)
	if err != nil {
		return err
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	}()

	if *port == "" {
		*port = cfg.Server.Port
	}
	return a.Start(":" + *port)
}

// confirm prompts on the terminal and reports whether the user agreed. A
// non-interactive stdin refuses rather than assuming consent.
func confirm(prompt string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("refusing a destructive operation without a terminal; pass -yes to proceed")
	}
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
