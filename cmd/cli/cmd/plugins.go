package cmd

import (
	"github.com/spf13/cobra"

	"snakeplane/internal/registry"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List the available executor plugins and their settings",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		list := plugins.Plugins()
		if len(list) == 0 {
			cmd.Println("No executor plugins found")
			return
		}
		for i, p := range list {
			if i > 0 {
				cmd.Println()
			}
			printPlugin(cmd, p)
		}
		for _, err := range plugins.Failures() {
			cmd.Printf("%s!%s %s\n", colorYellow, colorReset, err)
		}
	},
}

func printPlugin(cmd *cobra.Command, p *registry.Plugin) {
	cmd.Printf("%s%s%s\n", colorBold, p.Name, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sNon-local:%s    %s\n", colorDim, colorReset, yesNo(p.Common.NonLocalExec))
	cmd.Printf("%sShared FS:%s    %s\n", colorDim, colorReset, yesNo(!p.Common.ImpliesNoSharedFS))

	if p.Schema == nil || len(p.Schema.Fields) == 0 {
		cmd.Printf("%sSettings:%s     -\n", colorDim, colorReset)
		return
	}
	cmd.Printf("%sSettings:%s\n", colorDim, colorReset)
	for _, f := range p.Schema.Fields {
		line := "  " + colorCyan + "--" + p.FlagName(f.Name) + colorReset + " (" + f.Type.String() + ")"
		if f.Required {
			line += " " + colorRed + "required" + colorReset
		}
		cmd.Println(line)
		if f.Help != "" {
			cmd.Printf("      %s\n", f.Help)
		}
		if f.EnvVar {
			cmd.Printf("      %senv: %s%s\n", colorDim, p.EnvVar(f.Name), colorReset)
		}
	}
}

func yesNo(b bool) string {
	if b {
		return colorGreen + "yes" + colorReset
	}
	return "no"
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
}
