/*
Package cli holds the output, error and signal helpers shared by the armour
commands.

Output Formatting:

Commands print either free text, a Table or any JSON-encodable value. The
format is chosen with --format:

	format, err := cli.ParseFormat(flags.format)
	if err != nil {
		return err
	}
	table := &cli.Table{Headers: []string{"ID", "STATUS"}}
	table.Append(t.ExecutionID, string(t.Status))
	return cli.NewFormatter(format).FormatTo(os.Stdout, table)

Text output aligns tables in columns; CSV output only accepts tables.

Progress Reporting:

	progress := cli.NewProgressReporter(os.Stderr, "traces")
	progress.Start(total)
	progress.Update(done)
	progress.Finish()

Errors:

ConfigError and CommandError carry the exit status returned by ExitCode:
2 for configuration problems, 1 for everything else.

Signal Handling:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()
*/
package cli
