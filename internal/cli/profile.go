package cli

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/hairscan/internal/models"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or update your profile",
	Long: `Show or update the profile of the signed-in user.

Examples:
  hairscan profile
  hairscan profile update --phone "+43 660 1234567"`,
	RunE: runProfileShow,
}

var profileUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update profile fields (email cannot be changed)",
	RunE:  runProfileUpdate,
}

func init() {
	addProfileFlags(profileUpdateCmd)
	profileCmd.AddCommand(profileUpdateCmd)
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	if _, err := currentUser(); err != nil {
		return err
	}

	p, err := analyses.GetProfile(context.Background())
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}
	printProfile(p)
	return nil
}

func runProfileUpdate(cmd *cobra.Command, args []string) error {
	if _, err := currentUser(); err != nil {
		return err
	}
	ctx := context.Background()

	p, err := analyses.GetProfile(ctx)
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}

	// Only overwrite the fields given on the command line
	flags := cmd.Flags()
	if flags.Changed("name") {
		p.Name = profileInput.Name
	}
	if flags.Changed("surname") {
		p.Surname = profileInput.Surname
	}
	if flags.Changed("phone") {
		p.Phone = profileInput.Phone
	}
	if flags.Changed("birth-date") {
		p.BirthDate = profileInput.BirthDate
	}

	updated, err := analyses.UpdateProfile(ctx, p)
	if err != nil {
		return err
	}
	fmt.Println("Profile updated.")
	printProfile(updated)
	return nil
}

func printProfile(p models.Profile) {
	fmt.Printf("  Name:       %s %s\n", p.Name, p.Surname)
	fmt.Printf("  Email:      %s\n", p.Email)
	fmt.Printf("  Phone:      %s\n", p.Phone)
	fmt.Printf("  Birth date: %s\n", p.BirthDate)
}
