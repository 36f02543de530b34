package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/lifecycle"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
)

func newQuestionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "question",
		Short: "Inspect questions",
	}

	cmd.AddCommand(newQuestionListCmd())
	cmd.AddCommand(newQuestionShowCmd())
	return cmd
}

func newQuestionListCmd() *cobra.Command {
	var (
		configPath string
		statuses   []string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List questions",
		Long:  "Lists questions oldest first, optionally filtered by status (waiting, in_progress, paused, completed).",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuestionList(cmd, configPath, statuses)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to mentorbot config file")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "only show questions in these statuses")
	return cmd
}

func runQuestionList(cmd *cobra.Command, configPath string, statuses []string) error {
	for _, s := range statuses {
		if !models.ValidStatus(s) {
			return fmt.Errorf("unknown status %q", s)
		}
	}
	repo, closeDB, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	qs, err := repo.ListQuestionsByStatus(cmd.Context(), statuses...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(qs) == 0 {
		fmt.Fprintln(out, "No questions found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCATEGORY\tTEAM\tMENTORS\tCREATED")
	for _, q := range qs {
		mentors := strings.Join(q.MentorIDs(), ",")
		if mentors == "" {
			mentors = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			q.ID, q.Status, q.Category, truncate(q.TeamName, 20), mentors, q.CreatedAt.Format("01-02 15:04"))
	}
	w.Flush()
	return nil
}

func newQuestionShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show question details",
		Long:  "Displays a question with its content, assigned mentors, reservation state and full status history.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuestionShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to mentorbot config file")
	return cmd
}

func runQuestionShow(cmd *cobra.Command, configPath, id string) error {
	repo, closeDB, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	q, err := repo.GetQuestion(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:          %s\n", q.ID)
	fmt.Fprintf(out, "Status:      %s %s\n", lifecycle.StatusEmoji(q.Status), q.Status)
	fmt.Fprintf(out, "Asker:       %s\n", q.AskerID)
	fmt.Fprintf(out, "Team:        %s\n", q.TeamName)
	fmt.Fprintf(out, "Category:    %s\n", q.Category)
	fmt.Fprintf(out, "Urgency:     %s\n", q.Urgency)
	fmt.Fprintf(out, "Consult:     %s\n", q.ConsultationType)
	if ids := q.MentorIDs(); len(ids) > 0 {
		fmt.Fprintf(out, "Mentors:     %s\n", strings.Join(ids, ", "))
	}
	if q.IsReservation() {
		dispatched := "pending"
		if q.DispatchedAt != nil {
			dispatched = q.DispatchedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(out, "Reservation: %s (dispatched: %s)\n", q.ReservationTime, dispatched)
	}
	if q.ChannelRef != "" {
		fmt.Fprintf(out, "Posted:      %s %s\n", q.ChannelRef, q.MessageRef)
	}
	if q.ResolvedAt != nil {
		fmt.Fprintf(out, "Resolved:    %s by %s via %s\n", q.ResolvedAt.Format("2006-01-02 15:04:05"), q.ResolvedBy, q.ResolvedVia)
	}
	fmt.Fprintf(out, "Created:     %s\n", q.CreatedAt.Format("2006-01-02 15:04:05"))

	fmt.Fprintf(out, "\nContent:\n%s\n", q.Content)
	for _, extra := range []struct{ label, text string }{
		{"Situation", q.Situation},
		{"Links", q.Links},
		{"Error", q.ErrorText},
	} {
		if extra.text != "" {
			fmt.Fprintf(out, "\n%s:\n%s\n", extra.label, extra.text)
		}
	}

	if len(q.History) > 0 {
		fmt.Fprintln(out, "\nHistory:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, h := range q.History {
			actor := h.ActorID
			if actor == "" {
				actor = "-"
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\n", h.CreatedAt.Format("01-02 15:04:05"), h.Status, actor)
		}
		w.Flush()
	}
	return nil
}

// truncate shortens s to maxLen runes.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxLen-3]) + "..."
}
