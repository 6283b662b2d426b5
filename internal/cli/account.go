package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/raphaelgruber/hairscan/internal/auth"
	"github.com/raphaelgruber/hairscan/internal/models"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	accountEmail    string
	accountPassword string
	profileInput    models.Profile
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and sign in",
	Long: `Create an account and sign in.

The password is read from the terminal unless --password is given.

Examples:
  hairscan signup --email jane@example.com --name Jane --surname Doe
  hairscan signup --email jane@example.com --phone "+43 660 1234567" --birth-date 1990-04-01`,
	RunE: runSignup,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	Long: `Sign in with email and password.

The signed-in user is remembered in the session file until 'hairscan logout'.

Examples:
  hairscan login --email jane@example.com`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the session",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE:  runWhoami,
}

func init() {
	for _, c := range []*cobra.Command{signupCmd, loginCmd} {
		c.Flags().StringVarP(&accountEmail, "email", "e", "", "account email")
		c.Flags().StringVarP(&accountPassword, "password", "p", "", "account password (prompted when omitted)")
	}
	addProfileFlags(signupCmd)
}

func addProfileFlags(c *cobra.Command) {
	c.Flags().StringVar(&profileInput.Name, "name", "", "first name")
	c.Flags().StringVar(&profileInput.Surname, "surname", "", "last name")
	c.Flags().StringVar(&profileInput.Phone, "phone", "", "phone number")
	c.Flags().StringVar(&profileInput.BirthDate, "birth-date", "", "birth date (YYYY-MM-DD)")
}

func runSignup(cmd *cobra.Command, args []string) error {
	email, password, err := credentials()
	if err != nil {
		return err
	}

	in := auth.SignUpInput{Profile: profileInput, Password: password}
	in.Email = email

	id, err := authProvider.SignUp(context.Background(), in)
	if errors.Is(err, auth.ErrEmailTaken) {
		return fmt.Errorf("%w (use 'hairscan login')", err)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Signed up and signed in as %s (%s)\n", id.Email, id.UserID)
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	email, password, err := credentials()
	if err != nil {
		return err
	}

	id, err := authProvider.SignIn(context.Background(), email, password)
	if err != nil {
		return err
	}

	fmt.Printf("Signed in as %s\n", id.Email)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	if err := authProvider.SignOut(); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	fmt.Println("Signed out.")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	id, err := authProvider.CurrentUser()
	if errors.Is(err, auth.ErrAuthRequired) {
		fmt.Println("Not signed in.")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s)\n", id.Email, id.UserID)
	if verbose {
		fmt.Printf("  Name: %s\n", id.Name)
		fmt.Printf("  Signed in: %s\n", id.SignedIn.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

// credentials returns the email and password from flags, prompting for
// whatever is missing.
func credentials() (string, string, error) {
	email := strings.TrimSpace(accountEmail)
	if email == "" {
		fmt.Print("Email: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", "", fmt.Errorf("read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}

	password := accountPassword
	if password == "" {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", "", fmt.Errorf("password required: use --password when stdin is not a terminal")
		}
		fmt.Print("Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", "", fmt.Errorf("read password: %w", err)
		}
		password = string(b)
	}
	return email, password, nil
}
