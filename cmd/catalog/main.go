// Command catalog imports product catalogs and resolves their prices from
// the command line.
//
// Usage:
//
//	catalog [-config smartcatalog.yaml] [-v] <command> [flags] [args]
//
// Commands:
//
//	import [-catalog NAME] [-document REF] records.json
//	catalogs
//	products [-catalog-id N] [-brand B] [-state S] [-limit N]
//	prices PRODUCT_ID
//	boq [-catalog-id N] [-quote out.pdf] [-title T] boq.xlsx|boq.txt|-
//	stats
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/brunobiangulo/smartcatalog"
	"github.com/brunobiangulo/smartcatalog/boq"
	"github.com/brunobiangulo/smartcatalog/ingest"
	"github.com/brunobiangulo/smartcatalog/pricing"
	"github.com/brunobiangulo/smartcatalog/store"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Usage = usage
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg := smartcatalog.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = smartcatalog.LoadConfig(*configPath); err != nil {
			fatal(err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		fatal(err)
	}

	engine, err := smartcatalog.New(cfg)
	if err != nil {
		fatal(err)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "import":
		err = runImport(ctx, engine, args)
	case "catalogs":
		err = runCatalogs(ctx, engine)
	case "products":
		err = runProducts(ctx, engine, args)
	case "prices":
		err = runPrices(ctx, engine, args)
	case "boq":
		err = runBoQ(ctx, engine, args)
	case "stats":
		err = runStats(ctx, engine)
	default:
		usage()
		engine.Close()
		os.Exit(2)
	}
	if err != nil {
		engine.Close()
		fatal(err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: catalog [-config file] [-v] import|catalogs|products|prices|boq|stats [flags] [args]\n")
	flag.PrintDefaults()
}

func fatal(err error) {
	slog.Error("catalog: command failed", "error", err)
	os.Exit(1)
}

func runImport(ctx context.Context, e *smartcatalog.Engine, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	name := fs.String("catalog", "", "Catalog name (default: document file name)")
	doc := fs.String("document", "", "Document reference for records without file_path")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("import: expected one records file")
	}

	r, closeFn, err := openInput(fs.Arg(0))
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := e.Import(ctx, r, ingest.Options{Catalog: *name, DocumentRef: *doc})
	if err != nil {
		return err
	}
	renderImport(os.Stdout, res)
	return nil
}

func runCatalogs(ctx context.Context, e *smartcatalog.Engine) error {
	cats, err := e.Catalogs(ctx)
	if err != nil {
		return err
	}
	renderCatalogs(os.Stdout, cats)
	return nil
}

func runProducts(ctx context.Context, e *smartcatalog.Engine, args []string) error {
	fs := flag.NewFlagSet("products", flag.ExitOnError)
	catalogID := fs.Int64("catalog-id", 0, "Only products of this catalog")
	brand := fs.String("brand", "", "Only products of this brand")
	state := fs.String("state", "", "Only products in this price state (unresolved, empty, resolved)")
	limit := fs.Int("limit", 0, "Maximum products to list")
	fs.Parse(args)

	filter := store.ProductFilter{CatalogID: *catalogID, Brand: *brand, State: pricing.State(*state), Limit: *limit}
	if *state != "" && !filter.State.Valid() {
		return fmt.Errorf("products: invalid state %q", *state)
	}
	products, err := e.Products(ctx, filter)
	if err != nil {
		return err
	}
	renderProducts(os.Stdout, products)
	return nil
}

func runPrices(ctx context.Context, e *smartcatalog.Engine, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("prices: expected one product id")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("prices: invalid product id %q", args[0])
	}
	p, err := e.Product(ctx, id)
	if err != nil {
		return err
	}
	data, err := e.EnsurePriceData(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s (%s), page %d\n", p.Name, p.Brand, p.PageNumber)
	renderPriceData(os.Stdout, data)
	return nil
}

func runBoQ(ctx context.Context, e *smartcatalog.Engine, args []string) error {
	fs := flag.NewFlagSet("boq", flag.ExitOnError)
	catalogID := fs.Int64("catalog-id", 0, "Only match products of this catalog")
	quote := fs.String("quote", "", "Write a priced quote PDF to this path")
	title := fs.String("title", "Quote", "Quote title")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("boq: expected one BoQ file")
	}

	lines, err := readBoQ(fs.Arg(0))
	if err != nil {
		return err
	}
	opts := boq.Options{CatalogID: *catalogID}

	var results []boq.Result
	if *quote != "" {
		f, err := os.Create(*quote)
		if err != nil {
			return err
		}
		results, err = e.Quote(ctx, f, *title, lines, opts)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(*quote)
			return err
		}
		slog.Info("catalog: quote written", "path", *quote)
	} else if results, err = e.ProcessBoQ(ctx, lines, opts); err != nil {
		return err
	}
	renderBoQ(os.Stdout, results)
	return nil
}

func runStats(ctx context.Context, e *smartcatalog.Engine) error {
	s, err := e.Stats(ctx)
	if err != nil {
		return err
	}
	renderStats(os.Stdout, s)
	return nil
}

// readBoQ reads lines from an XLSX workbook, a text file, or stdin ("-").
func readBoQ(path string) ([]string, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return boq.ReadXLSX(path)
	}
	r, closeFn, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return boq.ReadLines(r)
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
