// Command mcpd runs the Model Context Protocol server runtime: a protocol
// engine dispatching tools/resources/prompts/tasks over stdio and/or
// HTTP+SSE, backed by an in-memory or Redis-shared session store, message
// broker and distributed lock.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	v := viper.New()
	root := &cobra.Command{
		Use:           "mcpd",
		Short:         "Model Context Protocol server daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if err := bindFlags(root, v); err != nil {
		root.PrintErrln(err)
		os.Exit(1)
	}
	root.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(v)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := root.ExecuteContext(ctx); err != nil {
		root.PrintErrln(err)
		os.Exit(1)
	}
}
