// Command atvctl is the CLI client for the atvd HTTP API: space, version,
// vector, search, key/value, snapshot, security, and cluster
// administration, each subcommand a thin HTTP call against the routes the
// daemon serves.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set via ldflags during build.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagAddr  string
	flagToken string
)

func api() *client {
	return newClient(flagAddr, flagToken)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "atvctl",
	Short:   "atinyvectors cluster control CLI",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"atvctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", envOr("ATV_HTTP_ADDR", "127.0.0.1:21001"), "daemon HTTP address")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("ATV_TOKEN"), "RBAC bearer token")

	rootCmd.AddCommand(spaceCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(vectorCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(rerankCmd)
	rootCmd.AddCommand(kvCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(securityCmd)
	rootCmd.AddCommand(clusterCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// bodyFromFlags resolves the request body from --file (JSON or YAML) or an
// inline JSON argument.
func bodyFromFlags(cmd *cobra.Command, args []string, argIndex int) ([]byte, error) {
	file, _ := cmd.Flags().GetString("file")
	if file != "" {
		return loadBody(file)
	}
	if len(args) > argIndex {
		return []byte(args[argIndex]), nil
	}
	return nil, fmt.Errorf("provide a JSON argument or --file")
}

// --- space ---

var spaceCmd = &cobra.Command{
	Use:   "space",
	Short: "Manage spaces",
}

func init() {
	create := &cobra.Command{
		Use:   "create [config-json]",
		Short: "Create a space from inline JSON or --file (JSON/YAML)",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := bodyFromFlags(cmd, args, 0)
			if err != nil {
				return err
			}
			out, err := api().postJSON("/api/space", body)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	create.Flags().String("file", "", "space config file (.json/.yaml)")

	update := &cobra.Command{
		Use:   "update NAME [config-json]",
		Short: "Update a space's config",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := bodyFromFlags(cmd, args, 1)
			if err != nil {
				return err
			}
			out, err := api().postJSON("/api/space/"+args[0], body)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	update.Flags().String("file", "", "space config file (.json/.yaml)")

	spaceCmd.AddCommand(create, update,
		&cobra.Command{
			Use:   "get NAME",
			Short: "Fetch one space",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().get("/api/space/" + args[0])
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List all spaces",
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().get("/api/spaces")
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete NAME",
			Short: "Delete a space and everything it owns",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().delete("/api/space/" + args[0])
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
	)
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Manage versions within a space",
}

func init() {
	create := &cobra.Command{
		Use:   "create SPACE [config-json]",
		Short: "Create a version",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := bodyFromFlags(cmd, args, 1)
			if err != nil {
				return err
			}
			out, err := api().postJSON("/api/space/"+args[0]+"/version", body)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	create.Flags().String("file", "", "version config file (.json/.yaml)")

	versionCmd.AddCommand(create,
		&cobra.Command{
			Use:   "list SPACE",
			Short: "List a space's versions",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().get("/api/space/" + args[0] + "/versions")
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "get SPACE VID",
			Short: "Fetch one version by unique id (0 = default)",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().get("/api/space/" + args[0] + "/version/" + args[1])
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "default SPACE",
			Short: "Fetch a space's default version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().get("/api/space/" + args[0] + "/version/default")
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete SPACE VID",
			Short: "Delete one version",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().delete("/api/space/" + args[0] + "/version/" + args[1])
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
	)
}

// --- vector ---

var vectorCmd = &cobra.Command{
	Use:   "vector",
	Short: "Upsert and list vectors",
}

func init() {
	upsert := &cobra.Command{
		Use:   "upsert SPACE [vectors-json]",
		Short: "Upsert vectors into a space (default version, or --version)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := bodyFromFlags(cmd, args, 1)
			if err != nil {
				return err
			}
			vid, _ := cmd.Flags().GetString("version")
			path := "/api/space/" + args[0] + "/vector"
			if vid != "" {
				path = "/api/space/" + args[0] + "/version/" + vid + "/vector"
			}
			out, err := api().postJSON(path, body)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	upsert.Flags().String("file", "", "vectors file (.json/.yaml)")
	upsert.Flags().String("version", "", "version unique id (defaults to the space's default version)")

	list := &cobra.Command{
		Use:   "list SPACE",
		Short: "List a space's vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vid, _ := cmd.Flags().GetString("version")
			start, _ := cmd.Flags().GetInt("start")
			limit, _ := cmd.Flags().GetInt("limit")
			path := "/api/space/" + args[0] + "/vectors"
			if vid != "" {
				path = "/api/space/" + args[0] + "/version/" + vid + "/vectors"
			}
			out, err := api().get(fmt.Sprintf("%s?start=%d&limit=%d", path, start, limit))
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	list.Flags().String("version", "", "version unique id")
	list.Flags().Int("start", 0, "pagination offset")
	list.Flags().Int("limit", 0, "pagination limit (0 = all)")

	vectorCmd.AddCommand(upsert, list)
}

// --- search / rerank ---

func newQueryCommand(use, short, suffix string) *cobra.Command {
	c := &cobra.Command{
		Use:   use + " SPACE [query-json]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := bodyFromFlags(cmd, args, 1)
			if err != nil {
				return err
			}
			vid, _ := cmd.Flags().GetString("version")
			path := "/api/space/" + args[0] + suffix
			if vid != "" {
				path = "/api/space/" + args[0] + "/version/" + vid + suffix
			}
			out, err := api().postJSON(path, body)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	c.Flags().String("file", "", "query file (.json/.yaml)")
	c.Flags().String("version", "", "version unique id (defaults to the space's default version)")
	return c
}

var searchCmd = newQueryCommand("search", "Run a k-NN search", "/search")
var rerankCmd = newQueryCommand("rerank", "Run a k-NN search followed by BM25 rerank", "/rerank")

// --- kv ---

var kvCmd = &cobra.Command{
	Use:   "kv",
	Short: "Per-space key/value storage",
}

func init() {
	kvCmd.AddCommand(
		&cobra.Command{
			Use:   "put SPACE KEY VALUE",
			Short: "Store a value",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().postJSON("/api/space/"+args[0]+"/key/"+args[1], []byte(args[2]))
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "get SPACE KEY",
			Short: "Fetch a value",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().get("/api/space/" + args[0] + "/key/" + args[1])
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			},
		},
		&cobra.Command{
			Use:   "del SPACE KEY",
			Short: "Remove a value",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().delete("/api/space/" + args[0] + "/key/" + args[1])
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "keys SPACE",
			Short: "List a space's keys",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().get("/api/space/" + args[0] + "/keys")
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
	)
}

// --- snapshot ---

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Data-snapshot archives",
}

func init() {
	download := &cobra.Command{
		Use:   "download NAME",
		Short: "Download an archive (NAME is the file name or its date)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := api().get("/snapshot/" + args[0] + "/download")
			if err != nil {
				return err
			}
			dest, _ := cmd.Flags().GetString("output")
			if dest == "" {
				dest = args[0]
			}
			if err := os.WriteFile(dest, out, 0644); err != nil {
				return err
			}
			fmt.Printf("wrote %s (%d bytes)\n", dest, len(out))
			return nil
		},
	}
	download.Flags().StringP("output", "o", "", "destination file")

	snapshotCmd.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Create a new archive on every node",
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().postJSON("/snapshot", []byte("{}"))
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List recorded archives",
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().get("/snapshots")
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "restore NAME",
			Short: "Restore an archive every node already has locally",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().postJSON("/snapshot/"+args[0]+"/restore", []byte("{}"))
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "upload FILE",
			Short: "Upload an archive to the leader and sync it to every node",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().upload("/snapshots/restore", args[0])
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete NAME",
			Short: "Delete one archive cluster-wide",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().delete("/snapshot/" + args[0] + "/delete")
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete-all",
			Short: "Delete every archive on this node",
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().delete("/snapshot/delete_all")
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
		download,
	)
}

// --- security ---

var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "RBAC token administration",
}

func init() {
	create := &cobra.Command{
		Use:   "create [permissions-json]",
		Short: "Mint a new RBAC token with the given permission levels",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := bodyFromFlags(cmd, args, 0)
			if err != nil {
				return err
			}
			out, err := api().postJSON("/api/security/tokens", body)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	create.Flags().String("file", "", "permissions file (.json/.yaml)")

	update := &cobra.Command{
		Use:   "update TOKEN [permissions-json]",
		Short: "Replace a token's permission levels",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := bodyFromFlags(cmd, args, 1)
			if err != nil {
				return err
			}
			out, err := api().putJSON("/api/security/tokens/"+args[0], body)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	update.Flags().String("file", "", "permissions file (.json/.yaml)")

	securityCmd.AddCommand(create, update,
		&cobra.Command{
			Use:   "list",
			Short: "List stored tokens",
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().get("/api/security/tokens")
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete TOKEN",
			Short: "Delete a token",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().delete("/api/security/tokens/" + args[0])
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
	)
}

// --- cluster ---

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster administration",
}

func init() {
	clusterCmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Bootstrap a brand-new cluster on the target node",
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().postJSON("/cluster/init", []byte("{}"))
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show raft state, membership, and peer health",
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().get("/cluster/status")
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
		&cobra.Command{
			Use:   "join-token",
			Short: "Mint a short-lived admission token for a joining node",
			RunE: func(cmd *cobra.Command, args []string) error {
				out, err := api().postJSON("/cluster/join-token", []byte("{}"))
				if err != nil {
					return err
				}
				printJSON(out)
				return nil
			},
		},
	)
}
