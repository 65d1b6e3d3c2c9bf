// Command reindeerctl is a small operator CLI for a reindeer database: it
// can list the registered entity families and dump/restore a single tree
// as raw JSON, independent of the Go type the tree was opened with.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	json "github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/kittclouds/reindeer/internal/kv"
	"github.com/kittclouds/reindeer/pkg/dbconfig"
	"github.com/kittclouds/reindeer/pkg/family"
)

type rawRecord struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "describe":
		err = runDescribe(args)
	case "dump":
		err = runDump(args)
	case "restore":
		err = runRestore(args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		color.Red("reindeerctl: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: reindeerctl <describe|dump|restore> --db PATH [flags]")
}

func runDescribe(args []string) error {
	fs := flag.NewFlagSet("describe", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to the reindeer database file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" {
		return fmt.Errorf("--db is required")
	}

	engine, err := kv.OpenBolt(*dbPath, kv.Options{ReadOnly: true, Timeout: 2 * time.Second})
	if err != nil {
		return err
	}
	defer engine.Close()

	catalog, err := family.Open(engine, 128)
	if err != nil {
		return err
	}

	tree, err := engine.Tree("__families")
	if err != nil {
		return err
	}
	return tree.ForEach(func(k, _ []byte) (bool, error) {
		desc, err := catalog.Get(string(k))
		if err != nil {
			return false, err
		}
		color.Cyan("%s (version %d)", desc.TreeName, desc.Version)
		for _, e := range desc.Edges {
			fmt.Printf("  %-20s %-8s -> %-20s owner=%s related=%s\n",
				e.Name, e.Kind, e.RelatedTo, e.OwnerDrop, e.RelatedDrop)
		}
		return true, nil
	})
}

func runDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to the reindeer database file")
	treeName := fs.String("tree", "", "tree to dump")
	outPath := fs.String("out", "", "output JSON file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" || *treeName == "" || *outPath == "" {
		return fmt.Errorf("--db, --tree and --out are required")
	}

	engine, err := kv.OpenBolt(*dbPath, kv.Options{ReadOnly: true, Timeout: 2 * time.Second})
	if err != nil {
		return err
	}
	defer engine.Close()

	tree, err := engine.Tree(*treeName)
	if err != nil {
		return err
	}
	n, err := tree.Len()
	if err != nil {
		return err
	}

	bar := progressbar.Default(int64(n), fmt.Sprintf("dumping %s", *treeName))
	var records []rawRecord
	err = tree.ForEach(func(k, v []byte) (bool, error) {
		records = append(records, rawRecord{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
		_ = bar.Add(1)
		return true, nil
	})
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outPath, b, 0o644); err != nil {
		return err
	}
	color.Green("wrote %d records to %s", len(records), *outPath)
	return nil
}

func runRestore(args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to the reindeer database file")
	treeName := fs.String("tree", "", "tree to restore into")
	inPath := fs.String("in", "", "input JSON file produced by dump")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" || *treeName == "" || *inPath == "" {
		return fmt.Errorf("--db, --tree and --in are required")
	}

	b, err := os.ReadFile(*inPath)
	if err != nil {
		return err
	}
	var records []rawRecord
	if err := json.Unmarshal(b, &records); err != nil {
		return err
	}

	cfg := dbconfig.Default(*dbPath)
	engine, err := kv.OpenBolt(cfg.Path, kv.Options{Timeout: 5 * time.Second})
	if err != nil {
		return err
	}
	defer engine.Close()

	tree, err := engine.Tree(*treeName)
	if err != nil {
		return err
	}

	bar := progressbar.Default(int64(len(records)), fmt.Sprintf("restoring %s", *treeName))
	for _, rec := range records {
		if err := tree.Put(rec.Key, rec.Value); err != nil {
			return err
		}
		_ = bar.Add(1)
	}
	color.Green("restored %d records into %s", len(records), *treeName)
	return nil
}
