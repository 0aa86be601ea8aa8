package cmd

import (
	"fmt"

	"github.com/solatis/rewardkeeper/internal/rules"
	"github.com/spf13/cobra"
)

var formulaCmd = &cobra.Command{
	Use:   "formula",
	Short: "Work with reward formulas offline",
}

var formulaEvalCmd = &cobra.Command{
	Use:   "eval <expression>",
	Short: "Compile a formula and evaluate it with G, P and M",
	Long: `Compile a reward formula and evaluate it.

Variables: G is the score, P the percentage and M the maximum score.
Operators: + - * / and parentheses.

An expression starting with '-' must follow '--' so it is not read as a flag.`,
	Example: `  rewardkeeper formula eval "G*2+10" --g 40
  rewardkeeper formula eval --g 40 -- -G+50`,
	Args: cobra.ExactArgs(1),
	RunE: runFormulaEval,
}

func init() {
	rootCmd.AddCommand(formulaCmd)
	formulaCmd.AddCommand(formulaEvalCmd)
	formulaEvalCmd.Flags().Float64("g", 0, "score (G)")
	formulaEvalCmd.Flags().Float64("p", 0, "percentage (P)")
	formulaEvalCmd.Flags().Float64("m", 0, "maximum score (M)")
}

func runFormulaEval(cmd *cobra.Command, args []string) error {
	f, err := rules.CompileFormula(args[0])
	if err != nil {
		return err
	}

	var vars rules.Vars
	vars.G, _ = cmd.Flags().GetFloat64("g")
	vars.P, _ = cmd.Flags().GetFloat64("p")
	vars.M, _ = cmd.Flags().GetFloat64("m")

	v, err := f.Evaluate(vars)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%v (reward %d)\n", v, rules.RoundReward(v))
	return nil
}
