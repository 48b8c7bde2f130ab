// Package main 是 coursehub 实时服务的命令行入口。
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "coursehub",
		Short:         "Real-time chat, presence and notifications for courses",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd(), buildMigrateCmd(), buildTokenCmd(), buildPublishCmd())
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Stderr.WriteString("coursehub: " + err.Error() + "\n")
		os.Exit(1)
	}
}
