// Command npkextract unpacks NPK archives: whole archives, single entries
// by index, or just the embedded name table.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	farm "github.com/dgryski/go-farm"
	"github.com/urfave/cli/v2"

	npk "github.com/aexadev/go-npk"
)

func main() {
	app := &cli.App{
		Name:  "npkextract",
		Usage: "extract files from NPK game archives",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log every entry as it is processed",
			},
		},
		Commands: []*cli.Command{
			extractCommand(),
			infoCommand(),
			namesCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openFlags() []cli.Flag {
	return []cli.Flag{
		&cli.UintFlag{
			Name:  "key",
			Usage: "numeric decryption key for basic-XOR entries",
		},
		&cli.IntFlag{
			Name:  "record-width",
			Usage: "override index record width inference",
		},
		&cli.BoolFlag{
			Name:  "fresh-keystream",
			Usage: "reseed the EXPK keystream before every decrypt",
		},
		&cli.BoolFlag{
			Name:  "verify-crc",
			Usage: "check payloads against the checksums in the index",
		},
		&cli.BoolFlag{
			Name:  "force",
			Usage: "continue past an unrecognized archive magic",
		},
	}
}

func openArchive(c *cli.Context, path string) (*npk.Archive, error) {
	var opts []npk.Option
	if c.IsSet("key") {
		opts = append(opts, npk.WithBasicKey(uint32(c.Uint("key"))))
	}
	if w := c.Int("record-width"); w != 0 {
		opts = append(opts, npk.WithRecordWidth(w))
	}
	if c.Bool("fresh-keystream") {
		opts = append(opts, npk.WithFreshKeystream())
	}
	if c.Bool("verify-crc") {
		opts = append(opts, npk.WithVerifyCRC())
	}
	if c.Bool("force") {
		opts = append(opts, npk.WithForce())
	}
	a, err := npk.Open(path, opts...)
	if err != nil {
		return nil, err
	}
	for _, w := range a.Warnings() {
		log.Printf("warning: %s: %s", path, w)
	}
	return a, nil
}

func extractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "extract entries to a directory, sorted by category",
		ArgsUsage: "ARCHIVE|DIR",
		Flags: append(openFlags(),
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Value:   ".",
				Usage:   "output directory",
			},
			&cli.IntFlag{
				Name:  "index",
				Value: -1,
				Usage: "extract only the entry at this index",
			},
			&cli.BoolFlag{
				Name:  "skip-empty",
				Usage: "do not write zero-length entries",
			},
			&cli.BoolFlag{
				Name:  "dedupe",
				Usage: "write identical payloads only once",
			},
		),
		Action: runExtract,
	}
}

func runExtract(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("extract takes exactly one archive or directory path", 2)
	}
	arg := c.Args().First()

	fi, err := os.Stat(arg)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		written, skipped, failed, err := extractArchive(c, arg, c.String("out"))
		if err != nil {
			return err
		}
		fmt.Printf("%d written, %d skipped, %d failed\n", written, skipped, failed)
		if failed > 0 && written == 0 {
			return errors.New("no entry could be extracted")
		}
		return nil
	}

	// Batch mode: every *.npk in the directory, each under its own
	// subdirectory of the output root.
	paths, err := filepath.Glob(filepath.Join(arg, "*.npk"))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no *.npk archives in %s", arg)
	}

	var written, skipped, failed int
	for _, path := range paths {
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		w, s, f, err := extractArchive(c, path, filepath.Join(c.String("out"), stem))
		if err != nil {
			failed++
			log.Printf("%s: %v", path, err)
			continue
		}
		written += w
		skipped += s
		failed += f
	}

	fmt.Printf("%d archives, %d written, %d skipped, %d failed\n",
		len(paths), written, skipped, failed)
	if written == 0 {
		return errors.New("no entry could be extracted")
	}
	return nil
}

func extractArchive(c *cli.Context, path, outDir string) (written, skipped, failed int, err error) {
	a, err := openArchive(c, path)
	if err != nil {
		return 0, 0, 0, err
	}
	defer a.Close()

	first, last := 0, a.EntryCount()
	if i := c.Int("index"); i >= 0 {
		first, last = i, i+1
	}

	verbose := c.Bool("verbose")
	seen := make(map[uint64]bool)
	for i := first; i < last; i++ {
		entry, err := a.GetEntry(i)
		if err != nil {
			failed++
			log.Printf("entry %d: %v", i, err)
			continue
		}
		if c.Bool("skip-empty") && len(entry.Data) == 0 {
			skipped++
			continue
		}
		if c.Bool("dedupe") && len(entry.Data) > 0 {
			fp := farm.Fingerprint64(entry.Data)
			if seen[fp] {
				skipped++
				continue
			}
			seen[fp] = true
		}

		dst := filepath.Join(outDir, string(entry.Category), entry.Name())
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return written, skipped, failed, err
		}
		if err := os.WriteFile(dst, entry.Data, 0o644); err != nil {
			return written, skipped, failed, err
		}
		written++
		if verbose {
			log.Printf("entry %d -> %s (%d bytes)", i, dst, len(entry.Data))
		}
	}
	return written, skipped, failed, nil
}

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:      "info",
		Usage:     "print the archive header and index table",
		ArgsUsage: "ARCHIVE",
		Flags:     openFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("info takes exactly one archive path", 2)
			}
			a, err := openArchive(c, c.Args().First())
			if err != nil {
				return err
			}
			defer a.Close()

			hdr := a.Header()
			fmt.Printf("encrypted:       %v\n", a.Encrypted())
			fmt.Printf("entries:         %d\n", hdr.EntryCount)
			fmt.Printf("encryption mode: %d\n", hdr.EncryptionMode)
			fmt.Printf("hash mode:       %d\n", hdr.HashMode)
			fmt.Printf("index offset:    %d\n", hdr.IndexOffset)
			fmt.Printf("record width:    %d\n", a.RecordWidth())

			for i, rec := range a.Records() {
				fmt.Printf("%6d  %016x  off=%-10d stored=%-10d orig=%-10d %s/%s\n",
					i, rec.Signature, rec.Offset, rec.StoredLength,
					rec.OriginalLength, rec.Compression, rec.Cipher)
			}
			return nil
		},
	}
}

func namesCommand() *cli.Command {
	return &cli.Command{
		Name:      "names",
		Usage:     "dump the embedded name table, one name per line",
		ArgsUsage: "ARCHIVE",
		Flags:     openFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("names takes exactly one archive path", 2)
			}
			a, err := openArchive(c, c.Args().First())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.WriteNames(os.Stdout)
		},
	}
}
