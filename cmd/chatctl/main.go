// Command chatctl talks to the study chat API from a terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"learnmate/internal/client"
	"learnmate/internal/domain/model"
)

type globalFlags struct {
	server       string
	token        string
	session      string
	pollInterval time.Duration
	maxWait      time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Chat with a LearnMate study session",
		SilenceUsage:  true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.server, "server", envOr("LEARNMATE_SERVER", "http://localhost:8000"), "API base URL")
	pf.StringVar(&g.token, "token", os.Getenv("LEARNMATE_TOKEN"), "bearer token (see cmd/seed)")
	pf.StringVarP(&g.session, "session", "s", os.Getenv("LEARNMATE_SESSION"), "study session id")
	pf.DurationVar(&g.pollInterval, "poll-interval", 5*time.Second, "status poll interval")
	pf.DurationVar(&g.maxWait, "max-wait", 2*time.Hour, "give up waiting after this long")

	root.AddCommand(
		newSendCmd(g),
		newStatusCmd(g),
		newHistoryCmd(g),
		newFeedbackCmd(g),
		newClearCmd(g),
		newResetCmd(g),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (g *globalFlags) client() *client.Client {
	return client.New(g.server, client.WithToken(g.token), client.WithSyncTimeout(g.maxWait))
}

func (g *globalFlags) requireSession() error {
	if strings.TrimSpace(g.session) == "" {
		return errors.New("--session is required")
	}
	return nil
}

func (g *globalFlags) conversation(c *client.Client, progress io.Writer) *client.Conversation {
	p := client.NewPoller(c, client.PollConfig{Interval: g.pollInterval, MaxWait: g.maxWait}, nil)
	conv := client.NewConversation(c, p, g.session, 30*time.Second)
	p.OnProgress(func(client.Progress) {
		if v := conv.View(); v.Indicator != "" {
			fmt.Fprintf(progress, "\r%s", v.Indicator)
		}
	})
	return conv
}

func newSendCmd(g *globalFlags) *cobra.Command {
	var sync bool
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message and wait for the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireSession(); err != nil {
				return err
			}
			c := g.client()
			message := strings.Join(args, " ")
			if sync {
				msg, err := c.SendSync(cmd.Context(), g.session, message)
				if err != nil {
					return errors.New(client.UserNotice(err))
				}
				printMessage(cmd.OutOrStdout(), *msg)
				return nil
			}
			conv := g.conversation(c, cmd.ErrOrStderr())
			msg, err := conv.Send(cmd.Context(), message)
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return errors.New(conv.View().Notice)
			}
			printMessage(cmd.OutOrStdout(), *msg)
			return nil
		},
	}
	cmd.Flags().BoolVar(&sync, "sync", false, "use the blocking endpoint instead of submit and poll")
	return cmd
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <request-id>",
		Short: "Show the status of a submitted message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireSession(); err != nil {
				return err
			}
			st, err := g.client().GetStatus(cmd.Context(), g.session, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

func newHistoryCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the session's chat history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.requireSession(); err != nil {
				return err
			}
			msgs, err := g.client().GetHistory(cmd.Context(), g.session)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				printMessage(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}

func newFeedbackCmd(g *globalFlags) *cobra.Command {
	var (
		down    bool
		comment string
	)
	cmd := &cobra.Command{
		Use:   "feedback <message-id>",
		Short: "Rate an assistant answer (thumbs up unless --down)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.requireSession(); err != nil {
				return err
			}
			if _, err := g.client().AddFeedback(cmd.Context(), g.session, args[0], !down, comment); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "feedback saved")
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "negative feedback")
	cmd.Flags().StringVar(&comment, "comment", "", "optional comment")
	return cmd
}

func newClearCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the session's chat history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.requireSession(); err != nil {
				return err
			}
			n, err := g.client().ClearHistory(cmd.Context(), g.session)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d messages\n", n)
			return nil
		},
	}
}

func newResetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Stop waiting locally and resync the conversation from the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := g.requireSession(); err != nil {
				return err
			}
			conv := g.conversation(g.client(), io.Discard)
			if err := conv.Reset(cmd.Context()); err != nil {
				return err
			}
			for _, m := range conv.View().Messages {
				printMessage(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}

func printMessage(w io.Writer, m model.ChatMessage) {
	fmt.Fprintf(w, "[%s] %s (%s)\n%s\n\n", m.Timestamp.Local().Format(time.Kitchen), m.Role, m.ID, m.Content)
}
