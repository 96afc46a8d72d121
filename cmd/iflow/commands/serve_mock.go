package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/lxyhes/iflow-engine/internal/mockbackend"
)

var (
	mockAddr  string
	mockDelay time.Duration
)

var serveMockCmd = &cobra.Command{
	Use:   "serve-mock",
	Short: "Start a local mock agent backend",
	Long: `Start a local mock agent backend for development.

The mock speaks the full backend surface (turn streams, attachment
uploads, retrieval, health) with scripted responses, so 'iflow chat'
works against it without a real model.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := mockbackend.New(mockbackend.WithStreamDelay(mockDelay))
		return srv.ListenAndServe(mockAddr)
	},
}

func init() {
	serveMockCmd.Flags().StringVar(&mockAddr, "addr", ":7800", "Listen address")
	serveMockCmd.Flags().DurationVar(&mockDelay, "stream-delay", 30*time.Millisecond, "Pause between stream frames")
}
