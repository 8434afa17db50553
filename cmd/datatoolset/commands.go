package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/datatoolset/pkg/compression"
	jsonpool "github.com/ajitpratap0/datatoolset/pkg/json"
	"github.com/ajitpratap0/datatoolset/pkg/sample"
	"github.com/ajitpratap0/datatoolset/pkg/schema"
	"github.com/ajitpratap0/datatoolset/pkg/table"
	"github.com/ajitpratap0/datatoolset/pkg/toolkit"
)

func (c *cli) headCommand(name, short string) *cobra.Command {
	var rows int64
	cmd := &cobra.Command{
		Use:   name + " FILE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, tk *toolkit.Toolkit, w io.Writer) error {
				n := int64(tk.Config().Read.HeadRows)
				if cmd.Flags().Changed("rows") {
					n = rows
				}
				read := tk.Head
				if name == "tail" {
					read = tk.Tail
				}
				tbl, err := read(ctx, args[0], n)
				if err != nil {
					return err
				}
				defer tbl.Release()
				return printRows(w, tbl)
			})
		},
	}
	cmd.Flags().Int64VarP(&rows, "rows", "n", 0, "Number of rows to print; read.head_rows when unset")
	return cmd
}

func (c *cli) metaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "meta FILE",
		Short: "Print the schema, codec and size of a file without decoding its rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, tk *toolkit.Toolkit, w io.Writer) error {
				meta, err := tk.Meta(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(w, meta)
			})
		},
	}
}

func (c *cli) schemaCommand() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "schema FILE",
		Short: "Print the schema embedded in a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, tk *toolkit.Toolkit, w io.Writer) error {
				res, err := tk.Schema(ctx, args[0])
				if err != nil {
					return err
				}
				if raw {
					_, err := fmt.Fprintln(w, res.Raw)
					return err
				}
				return printJSON(w, res)
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the schema text exactly as stored in the file")
	return cmd
}

func (c *cli) statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats FILE",
		Short: "Print per-column count, null count, min and max",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, tk *toolkit.Toolkit, w io.Writer) error {
				res, err := tk.Stats(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(w, res)
			})
		},
	}
}

func (c *cli) countCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "count FILE",
		Short: "Print the number of rows in a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, tk *toolkit.Toolkit, w io.Writer) error {
				n, err := tk.Count(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, n)
				return err
			})
		},
	}
}

func (c *cli) queryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "query FILE SQL",
		Short: "Run SQL against a file",
		Long: `Run SQL against a file. The file is addressable by its base name, for example:

  datatoolset query data/weather.avro 'SELECT station, max(temp) FROM "weather.avro" GROUP BY station'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, tk *toolkit.Toolkit, w io.Writer) error {
				tbl, err := tk.Query(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				defer tbl.Release()
				return printRows(w, tbl)
			})
		},
	}
}

func (c *cli) validateCommand() *cobra.Command {
	var schemaFile string
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a file's structure and optionally its content against an Avro schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, tk *toolkit.Toolkit, w io.Writer) error {
				if err := tk.Validate(ctx, args[0], schemaFile); err != nil {
					return err
				}
				_, err := fmt.Fprintf(w, "%s: valid\n", args[0])
				return err
			})
		},
	}
	cmd.Flags().StringVar(&schemaFile, "schema", "", "Avro schema (JSON) the file content must conform to")
	return cmd
}

func (c *cli) mergeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "merge INPUT INPUT... OUTPUT",
		Short: "Concatenate files of one format into OUTPUT",
		Long: `Concatenate files of one format into OUTPUT. The first input decides the
schema and codec; later inputs are appended without schema reconciliation.
A failure part way leaves a partial OUTPUT behind.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, tk *toolkit.Toolkit, w io.Writer) error {
				res, err := tk.Merge(ctx, args[:len(args)-1], args[len(args)-1])
				if err != nil {
					return err
				}
				return printJSON(w, res)
			})
		},
	}
}

// compressionFlag resolves --compression, falling back to output.compression
func compressionFlag(cmd *cobra.Command, tk *toolkit.Toolkit, value string) (compression.Algorithm, error) {
	if cmd.Flags().Changed("compression") {
		return compression.ParseAlgorithm(value)
	}
	return tk.Compression()
}

func (c *cli) toJSONCommand() *cobra.Command {
	var (
		pretty bool
		alg    string
	)
	cmd := &cobra.Command{
		Use:   "to_json FILE OUTPUT",
		Short: "Convert a file to a JSON array of row objects",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, tk *toolkit.Toolkit, w io.Writer) error {
				comp, err := compressionFlag(cmd, tk, alg)
				if err != nil {
					return err
				}
				opts := tk.JSONOptions()
				if cmd.Flags().Changed("pretty") {
					opts.Pretty = pretty
				}
				res, err := tk.ToJSON(ctx, args[0], args[1], opts, comp)
				if err != nil {
					return err
				}
				return printJSON(w, res)
			})
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the output")
	cmd.Flags().StringVar(&alg, "compression", "", "Compress the output: "+algorithmNames())
	return cmd
}

func (c *cli) toCSVCommand() *cobra.Command {
	var (
		delimiter, quote, terminator, alg string
		noHeader                          bool
	)
	cmd := &cobra.Command{
		Use:   "to_csv FILE OUTPUT",
		Short: "Convert a file to CSV",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, tk *toolkit.Toolkit, w io.Writer) error {
				comp, err := compressionFlag(cmd, tk, alg)
				if err != nil {
					return err
				}
				opts := tk.CSVOptions()
				flags := cmd.Flags()
				if flags.Changed("delimiter") {
					opts.Separator = delimiter
				}
				if flags.Changed("quote") {
					opts.Quote = quote
				}
				if flags.Changed("line-terminator") {
					opts.LineTerminator = terminator
				}
				if flags.Changed("no-header") {
					opts.Header = !noHeader
				}
				res, err := tk.ToCSV(ctx, args[0], args[1], opts, comp)
				if err != nil {
					return err
				}
				return printJSON(w, res)
			})
		},
	}
	cmd.Flags().StringVar(&delimiter, "delimiter", ",", "Field separator")
	cmd.Flags().StringVar(&quote, "quote", `"`, "Quote character")
	cmd.Flags().StringVar(&terminator, "line-terminator", "\n", "Line terminator")
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "Omit the header line")
	cmd.Flags().StringVar(&alg, "compression", "", "Compress the output: "+algorithmNames())
	return cmd
}

func (c *cli) toContainerCommand(name, short string) *cobra.Command {
	var codec string
	cmd := &cobra.Command{
		Use:   name + " FILE OUTPUT",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, tk *toolkit.Toolkit, w io.Writer) error {
				convert := tk.ToParquet
				if name == "to_avro" {
					convert = tk.ToAvro
				}
				res, err := convert(ctx, args[0], args[1], schema.Codec(codec))
				if err != nil {
					return err
				}
				return printJSON(w, res)
			})
		},
	}
	f := schema.FormatParquet
	if name == "to_avro" {
		f = schema.FormatAvro
	}
	cmd.Flags().StringVar(&codec, "codec", "", "Output codec: "+codecNames(f)+" (default from configuration)")
	return cmd
}

func (c *cli) sampleCommand() *cobra.Command {
	var (
		n                        int
		fraction                 float64
		seed                     uint64
		withReplacement, shuffle bool
		codec                    string
	)
	cmd := &cobra.Command{
		Use:   "random_sample FILE OUTPUT",
		Short: "Write a random subset of rows to a file of the same format",
		Long: `Write a random subset of rows to a file of the same format. Exactly one of
--n and --fraction is required. With --seed the output file is reproducible byte for byte.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := sample.Options{
				WithReplacement: withReplacement,
				Shuffle:         shuffle,
				Codec:           schema.Codec(codec),
			}
			flags := cmd.Flags()
			if flags.Changed("n") {
				opts.N = &n
			}
			if flags.Changed("fraction") {
				opts.Fraction = &fraction
			}
			if flags.Changed("seed") {
				opts.Seed = &seed
			}
			return c.run(cmd, func(ctx context.Context, tk *toolkit.Toolkit, w io.Writer) error {
				res, err := tk.RandomSample(ctx, args[0], args[1], opts)
				if err != nil {
					return err
				}
				return printJSON(w, res)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 0, "Number of rows to draw")
	cmd.Flags().Float64Var(&fraction, "fraction", 0, "Share of rows to draw, between 0.0 and 1.0")
	cmd.Flags().BoolVar(&withReplacement, "with-replacement", false, "Allow a row to be drawn more than once")
	cmd.Flags().BoolVar(&shuffle, "shuffle", false, "Keep the random draw order instead of source order")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Seed for a reproducible sample")
	cmd.Flags().StringVar(&codec, "codec", "", "Output codec (default: the input's codec)")
	return cmd
}

// printRows writes one JSON object per row
func printRows(w io.Writer, tbl arrow.Table) error {
	bw := bufio.NewWriter(w)
	err := table.ForEachRow(tbl, func(row map[string]any) error {
		return jsonpool.MarshalToWriter(bw, row)
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

func printJSON(w io.Writer, v any) error {
	data, err := jsonpool.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func algorithmNames() string {
	names := make([]string, len(compression.Algorithms))
	for i, a := range compression.Algorithms {
		names[i] = string(a)
	}
	return strings.Join(names, ", ")
}

func codecNames(f schema.Format) string {
	codecs := schema.WritableCodecs(f)
	names := make([]string, len(codecs))
	for i, c := range codecs {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
