package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"go.lsp.dev/protocol"

	"lsp-pool/src/config"
	"lsp-pool/src/internal/common"
	"lsp-pool/src/server"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// CLI flags
var (
	configPath    string
	workspaceRoot string
	includeDecl   bool
	language      string
)

var rootCmd = &cobra.Command{
	Use:   "lsp-pool",
	Short: "lsp-pool - a pooled client for Language Server Protocol servers",
	Long: `lsp-pool manages a pool of long-lived language servers (one per
language/workspace pair) and runs code-intelligence queries against them:
hover, definition, references, symbol search, rename and diagnostics.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the lsp-pool version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lsp-pool %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which configured language servers are available",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := buildManager()
		if err != nil {
			return err
		}
		status := mgr.CheckServerAvailability()

		languages := make([]string, 0, len(status))
		for lang := range status {
			languages = append(languages, lang)
		}
		sort.Strings(languages)

		for _, lang := range languages {
			st := status[lang]
			switch {
			case st.Error != nil:
				fmt.Printf("%-12s unavailable (%v)\n", lang, st.Error)
			case st.Active:
				fmt.Printf("%-12s active\n", lang)
			default:
				fmt.Printf("%-12s available\n", lang)
			}
		}
		return nil
	},
}

var hoverCmd = &cobra.Command{
	Use:   "hover <file> <line> <character>",
	Short: "Show hover information at a position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, mgr *server.Manager) error {
			line, character, err := parsePosition(args[1], args[2])
			if err != nil {
				return err
			}
			hover, err := mgr.Hover(ctx, args[0], line, character)
			if err != nil {
				return err
			}
			if hover == nil {
				fmt.Println("no hover information")
				return nil
			}
			fmt.Println(hover.Contents.Value)
			return nil
		})
	},
}

var definitionCmd = &cobra.Command{
	Use:   "definition <file> <line> <character>",
	Short: "Find the definition of the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, mgr *server.Manager) error {
			line, character, err := parsePosition(args[1], args[2])
			if err != nil {
				return err
			}
			locations, err := mgr.Definition(ctx, args[0], line, character)
			if err != nil {
				return err
			}
			printLocations(locations)
			return nil
		})
	},
}

var referencesCmd = &cobra.Command{
	Use:   "references <file> <line> <character>",
	Short: "Find references to the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, mgr *server.Manager) error {
			line, character, err := parsePosition(args[1], args[2])
			if err != nil {
				return err
			}
			locations, err := mgr.References(ctx, args[0], line, character, includeDecl)
			if err != nil {
				return err
			}
			printLocations(locations)
			return nil
		})
	},
}

var implementationCmd = &cobra.Command{
	Use:   "implementation <file> <line> <character>",
	Short: "Find implementations of the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, mgr *server.Manager) error {
			line, character, err := parsePosition(args[1], args[2])
			if err != nil {
				return err
			}
			locations, err := mgr.Implementation(ctx, args[0], line, character)
			if err != nil {
				return err
			}
			printLocations(locations)
			return nil
		})
	},
}

var symbolsCmd = &cobra.Command{
	Use:   "symbols <file>",
	Short: "List the symbol outline of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, mgr *server.Manager) error {
			symbols, err := mgr.DocumentSymbols(ctx, args[0])
			if err != nil {
				return err
			}
			for _, sym := range symbols {
				fmt.Printf("%v %s (line %d)\n", sym.Kind, sym.Name, sym.SelectionRange.Start.Line+1)
			}
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search workspace symbols",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, mgr *server.Manager) error {
			symbols, err := mgr.WorkspaceSymbols(ctx, args[0], language)
			if err != nil {
				return err
			}
			for _, sym := range symbols {
				fmt.Printf("%v %s %s:%d\n", sym.Kind, sym.Name,
					sym.Location.URI.Filename(), sym.Location.Range.Start.Line+1)
			}
			return nil
		})
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <file> <line> <character> <new-name>",
	Short: "Rename the symbol at a position",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, mgr *server.Manager) error {
			line, character, err := parsePosition(args[1], args[2])
			if err != nil {
				return err
			}
			edit, err := mgr.Rename(ctx, args[0], line, character, args[3])
			if err != nil {
				return err
			}
			if edit == nil {
				fmt.Println("rename not supported")
				return nil
			}
			for uri, edits := range edit.Changes {
				fmt.Printf("%s: %d edit(s)\n", uri.Filename(), len(edits))
			}
			for _, change := range edit.DocumentChanges {
				fmt.Printf("%s: %d edit(s)\n", change.TextDocument.URI.Filename(), len(change.Edits))
			}
			return nil
		})
	},
}

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics <file>",
	Short: "Show the last published diagnostics for a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(ctx context.Context, mgr *server.Manager) error {
			diagnostics, err := mgr.Diagnostics(ctx, args[0])
			if err != nil {
				return err
			}
			if len(diagnostics) == 0 {
				fmt.Println("no diagnostics")
				return nil
			}
			for _, d := range diagnostics {
				fmt.Printf("%d:%d %v %s\n", d.Range.Start.Line+1, d.Range.Start.Character+1, d.Severity, d.Message)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&workspaceRoot, "workspace", "", "Workspace root (defaults to current directory)")
	referencesCmd.Flags().BoolVar(&includeDecl, "include-declaration", true, "Include the declaration in the results")
	searchCmd.Flags().StringVar(&language, "language", "", "Restrict the search to one language")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(hoverCmd)
	rootCmd.AddCommand(definitionCmd)
	rootCmd.AddCommand(referencesCmd)
	rootCmd.AddCommand(implementationCmd)
	rootCmd.AddCommand(symbolsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(diagnosticsCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func buildManager() (*server.Manager, error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if defaultPath := config.GetDefaultConfigPath(); fileExists(defaultPath) {
		loaded, err := config.LoadConfig(defaultPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	return server.NewManager(cfg, workspaceRoot)
}

// withManager runs fn against a started manager and always shuts the
// pool down afterwards.
func withManager(fn func(context.Context, *server.Manager) error) error {
	mgr, err := buildManager()
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := mgr.Stop(); err != nil {
			common.CLILogger.Warn("Failed to stop manager: %v", err)
		}
	}()

	return fn(ctx, mgr)
}

func parsePosition(lineArg, characterArg string) (int, int, error) {
	line, err := strconv.Atoi(lineArg)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid line number %q", lineArg)
	}
	character, err := strconv.Atoi(characterArg)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid character offset %q", characterArg)
	}
	return line, character, nil
}

func printLocations(locations []protocol.Location) {
	if len(locations) == 0 {
		fmt.Println("no results")
		return
	}
	for _, loc := range locations {
		fmt.Printf("%s:%d:%d\n", loc.URI.Filename(),
			loc.Range.Start.Line+1, loc.Range.Start.Character+1)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
