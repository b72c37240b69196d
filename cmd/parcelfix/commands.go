package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parcelmap/server/internal/api"
	"github.com/parcelmap/server/internal/geodata"
	"github.com/parcelmap/server/internal/geometry"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "parcelfix",
		Short: "Check and repair parcel polygons.",
		Long: `parcelfix runs the same geometry engine as the parcel editing server on
polygons given as WKT (POLYGON((lng lat, ...))). Use the subcommands below.`,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}
	root.AddCommand(newOverlapsCmd(), newResolveCmd(), newCleanupCmd())
	return root
}

func newOverlapsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overlaps <wktA> <wktB>",
		Short: "Report whether two polygons overlap.",
		Long: `overlaps prints true when either polygon has a vertex strictly inside the
other. Edge crossings without an interior vertex are not detected.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseRing(args[0])
			if err != nil {
				return err
			}
			b, err := parseRing(args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatBool(geometry.Overlaps(a, b)))
			return nil
		},
		DisableAutoGenTag: true,
	}
}

func newResolveCmd() *cobra.Command {
	var candidate, obstaclesPath string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Compute a version of a polygon that clears its neighbors.",
		Long: `resolve reads the obstacles from a file, either a JSON array of
{"id","name","geodata"} objects or one WKT polygon per line ("-" reads stdin),
and prints the overlapping obstacles, the fixed polygon and the strategy used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := parseRing(candidate)
			if err != nil {
				return fmt.Errorf("candidate: %w", err)
			}
			obstacles, err := readObstacles(cmd.InOrStdin(), obstaclesPath)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(api.ResolveCandidate(ring, obstacles))
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().StringVar(&candidate, "candidate", "", "candidate polygon as WKT")
	cmd.Flags().StringVar(&obstaclesPath, "obstacles", "", "obstacle file")
	_ = cmd.MarkFlagRequired("candidate")
	_ = cmd.MarkFlagRequired("obstacles")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	var epsilon float64
	cmd := &cobra.Command{
		Use:   "cleanup <wkt>",
		Short: "Drop duplicate and closing vertices from a polygon.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ring := geometry.CleanupRing(geodata.WKTToRing(args[0]), epsilon)
			if len(ring) < 3 {
				return fmt.Errorf("polygon has fewer than 3 distinct vertices")
			}
			fmt.Fprintln(cmd.OutOrStdout(), geodata.RingToWKT(ring))
			return nil
		},
		DisableAutoGenTag: true,
	}
	cmd.Flags().Float64Var(&epsilon, "epsilon", geometry.DefaultEpsilon, "distance below which vertices are equal")
	return cmd
}

func parseRing(wkt string) (geodata.Ring, error) {
	ring := geodata.WKTToRing(wkt)
	if len(ring) < 3 {
		return nil, fmt.Errorf("not a polygon: %q", wkt)
	}
	return ring, nil
}

func readObstacles(stdin io.Reader, path string) ([]api.ObstacleInput, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read obstacles: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var obstacles []api.ObstacleInput
		if err := json.Unmarshal(trimmed, &obstacles); err != nil {
			return nil, fmt.Errorf("failed to parse obstacles: %w", err)
		}
		return obstacles, nil
	}

	var obstacles []api.ObstacleInput
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		obstacles = append(obstacles, api.ObstacleInput{
			ID:      strconv.Itoa(line),
			Name:    "line " + strconv.Itoa(line),
			Geodata: text,
		})
	}
	return obstacles, scanner.Err()
}
