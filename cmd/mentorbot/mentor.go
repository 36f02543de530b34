package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
)

func newMentorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mentor",
		Short: "Inspect and manage the mentor roster",
	}

	cmd.AddCommand(newMentorListCmd())
	cmd.AddCommand(newMentorSetCmd())
	return cmd
}

func newMentorListCmd() *cobra.Command {
	var (
		configPath    string
		availableOnly bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered mentors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMentorList(cmd, configPath, availableOnly)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to mentorbot config file")
	cmd.Flags().BoolVar(&availableOnly, "available", false, "only show mentors who can take questions")
	return cmd
}

func runMentorList(cmd *cobra.Command, configPath string, availableOnly bool) error {
	repo, closeDB, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	list := repo.ListMentors
	if availableOnly {
		list = repo.ListAvailableMentors
	}
	mentors, err := list(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(mentors) == 0 {
		fmt.Fprintln(out, "No mentors registered.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tNAME\tAVAILABILITY\tUPDATED")
	for _, m := range mentors {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.UserID, truncate(m.DisplayName, 24), m.Availability, m.UpdatedAt.Format("01-02 15:04"))
	}
	w.Flush()
	return nil
}

func newMentorSetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "set <user-id> <availability>",
		Short: "Change a mentor's availability",
		Long:  "Sets a registered mentor to available, busy or offline, for organizers fixing the roster by hand. The running bot picks the change up once its roster cache expires.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMentorSet(cmd, configPath, args[0], args[1])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to mentorbot config file")
	return cmd
}

func runMentorSet(cmd *cobra.Command, configPath, userID, availability string) error {
	if !models.ValidAvailability(availability) {
		return fmt.Errorf("availability must be one of %s, %s or %s",
			models.AvailabilityAvailable, models.AvailabilityBusy, models.AvailabilityOffline)
	}
	repo, closeDB, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := repo.SetMentorAvailability(cmd.Context(), userID, availability); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Mentor %s is now %s\n", userID, availability)
	return nil
}
