package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"medcite-backend/internal/client"
	"medcite-backend/internal/types"
)

func main() {
	if err := rootCMD().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCMD() *cobra.Command {
	var (
		baseURL string
		timeout time.Duration
	)
	root := &cobra.Command{
		Use:          "medcite",
		Short:        "Command line client for the MedCite API",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "server", getenv("MEDCITE_SERVER", "http://localhost:8080"), "MedCite API base URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall request timeout")

	newClient := func() *client.Client { return client.New(baseURL) }
	withTimeout := func(cmd *cobra.Command) (context.Context, context.CancelFunc) {
		return context.WithTimeout(cmd.Context(), timeout)
	}

	root.AddCommand(
		askCMD(newClient, withTimeout),
		hospitalsCMD(newClient, withTimeout),
		uploadCMD(newClient, withTimeout),
		historyCMD(newClient, withTimeout),
	)
	return root
}

type (
	clientFactory func() *client.Client
	ctxFactory    func(*cobra.Command) (context.Context, context.CancelFunc)
)

func askCMD(newClient clientFactory, withTimeout ctxFactory) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a medical research question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			resp, err := newClient().SendChat(ctx, strings.Join(args, " "))
			if errors.Is(err, client.ErrChatFailed) {
				fallback := client.FallbackTurn()
				resp = &fallback
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
			} else if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printAnswer(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw response")
	return cmd
}

func printAnswer(w io.Writer, resp *types.ChatResponse) {
	fmt.Fprintln(w, resp.Message)
	fmt.Fprintf(w, "\nconfidence: %s\n", resp.Confidence)
	if len(resp.Citations) > 0 {
		fmt.Fprintln(w, "sources:")
		for i, c := range resp.Citations {
			line := fmt.Sprintf("  [%d] %s", i+1, c.Source)
			if c.Page != "" {
				line += ", p. " + c.Page
			}
			fmt.Fprintln(w, line)
		}
	}
}

func hospitalsCMD(newClient clientFactory, withTimeout ctxFactory) *cobra.Command {
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   "hospitals",
		Short: "List hospitals near a coordinate",
		RunE: func(cmd *cobra.Command, args []string) error {
			var coord *types.Coordinate
			if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng") {
				coord = &types.Coordinate{Lat: lat, Lng: lng}
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			hospitals, err := client.NewHospitalFinder(newClient()).Nearby(ctx, true, coord)
			if err != nil {
				return err
			}
			if len(hospitals) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no hospitals found")
				return nil
			}
			for _, h := range hospitals {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s (%.1f) - %s [%s]\n", h.ID, h.Name, h.Rating, h.Address, h.Distance)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	return cmd
}

func uploadCMD(newClient clientFactory, withTimeout ctxFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file.pdf>...",
		Short: "Upload PDF documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			resp, err := newClient().Upload(ctx, args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			for _, f := range resp.Files {
				fmt.Fprintln(cmd.OutOrStdout(), "  "+f)
			}
			return nil
		},
	}
}

func historyCMD(newClient clientFactory, withTimeout ctxFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the chat log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			turns, err := newClient().History(ctx)
			if err != nil {
				return err
			}
			for _, t := range turns {
				fmt.Fprintf(cmd.OutOrStdout(), "#%d %s [%s]\n%s\n\n", t.ID, t.Role, t.Timestamp.Format(time.RFC3339), t.Content)
			}
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
