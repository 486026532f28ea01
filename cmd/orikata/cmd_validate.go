package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orikata-ai/orikata/internal/graphdef"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file-or-dir>...",
	Short: "Validate graph definition files",
	Long: `Validates YAML/JSON graph definitions against the definition schema
and structural rules (unique node keys, known edge endpoints).`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func runValidate(_ *cobra.Command, args []string) error {
	var failed int
	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			defs, err := graphdef.LoadDir(path)
			if err != nil {
				fmt.Printf("FAIL %s: %v\n", path, err)
				failed++
				continue
			}
			for slug := range defs {
				fmt.Printf("ok   %s (%s)\n", slug, path)
			}
			continue
		}
		def, err := graphdef.Load(path)
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("ok   %s (%s)\n", def.Slug, path)
	}
	if failed > 0 {
		return fmt.Errorf("%d definition(s) failed validation", failed)
	}
	return nil
}
