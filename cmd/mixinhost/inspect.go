package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mixinhost/internal/access"
	"mixinhost/internal/blob"
	"mixinhost/internal/config"
	"mixinhost/pkg/classfile"
)

func newInspectCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <class>",
		Short: "Print the stored image of a class as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return err
			}
			return runInspect(cmd.Context(), cfg, args[0], cmd.OutOrStdout())
		},
	}
}

func runInspect(ctx context.Context, cfg *config.Config, className string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := blob.Open(ctx, cfg.BlobStoreConfig())
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	image, ok, err := access.NewBlob(store, cfg.Adapter.Prefix).Read(ctx, className)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("class %s has no stored image", className)
	}
	class, err := classfile.Decode(image)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(class)
}
