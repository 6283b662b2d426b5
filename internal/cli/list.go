package cli

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/hairscan/internal/models"
	"github.com/raphaelgruber/hairscan/internal/steps"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List your analyses, newest first",
	Long: `List the analyses of the signed-in user, newest first.

Examples:
  hairscan list
  hairscan list -v`,
	RunE: runList,
}

var showCmd = &cobra.Command{
	Use:   "show <analysis-id>",
	Short: "Show the steps of one analysis",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var stepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "List the capture steps",
	RunE:  runSteps,
}

func runList(cmd *cobra.Command, args []string) error {
	if _, err := currentUser(); err != nil {
		return err
	}

	list, err := analyses.List(context.Background())
	if err != nil {
		return fmt.Errorf("list analyses: %w", err)
	}

	defs, err := loadSteps()
	if err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Println("No analyses found.")
		return nil
	}

	fmt.Printf("Analyses (%d):\n\n", len(list))
	for i := range list {
		a := &list[i]
		fmt.Printf("- %s  %s  %d/%d steps [%s]\n",
			a.IDString(), a.CreatedAt.Local().Format("2006-01-02 15:04"),
			a.CompletedSteps(), models.StepCount, a.Status)
		if verbose && !a.Complete() {
			next := a.NextPendingStep()
			if def, ok := steps.ByOrdinal(defs, next); ok {
				fmt.Printf("  Next: step %d, %s\n", next, def.Title)
			} else {
				fmt.Printf("  Next: step %d\n", next)
			}
		}
	}

	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	if _, err := currentUser(); err != nil {
		return err
	}

	a, err := analyses.Get(context.Background(), args[0])
	if err != nil {
		return err
	}

	defs, err := loadSteps()
	if err != nil {
		return err
	}

	fmt.Printf("%s  %s [%s]\n", a.IDString(), a.Name, a.Status)
	fmt.Printf("Created %s, updated %s\n\n",
		a.CreatedAt.Local().Format("2006-01-02 15:04"),
		a.UpdatedAt.Local().Format("2006-01-02 15:04"))
	for _, def := range defs {
		fmt.Printf("  %d. %-22s %s\n", def.Ordinal, def.Title, a.Step(def.Ordinal))
	}
	return nil
}

func runSteps(cmd *cobra.Command, args []string) error {
	defs, err := loadSteps()
	if err != nil {
		return err
	}

	for _, def := range defs {
		fmt.Printf("%d. %s [%s] %s\n", def.Ordinal, def.Title, def.Gate.Kind(), def.Endpoint.Path)
		if verbose {
			fmt.Printf("   %s\n", def.Guidance)
			if o, ok := def.Orientation(); ok {
				w := o.Window
				fmt.Printf("   pitch %.0f..%.0f, roll %.0f..%.0f\n", w.PitchMin, w.PitchMax, w.RollMin, w.RollMax)
			}
		}
	}
	return nil
}

// loadSteps returns the configured step catalogue.
func loadSteps() ([]steps.Definition, error) {
	if cfg.StepsFile == "" {
		return steps.Defaults(), nil
	}
	defs, err := steps.Load(cfg.StepsFile)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	return defs, nil
}
