package scoring

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erraggy/oastools/differ"
)

// OASToolsDiff is an in-process DiffTool backed by the oastools structural
// differ. It reports {"differences": [...]} on stdout and exits 1 when there
// is at least one change, mirroring the external tool contract.
type OASToolsDiff struct {
	// Breaking switches the differ into breaking-change mode.
	Breaking bool
}

type oastoolsDifference struct {
	Path     string `json:"path"`
	Type     string `json:"type"`
	Category string `json:"category"`
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message"`
}

// Compare diffs fileA (expected) against fileB (generated).
func (o OASToolsDiff) Compare(ctx context.Context, fileA, fileB string) (RawDiffOutput, error) {
	if err := ctx.Err(); err != nil {
		return RawDiffOutput{}, err
	}

	mode := differ.ModeSimple
	if o.Breaking {
		mode = differ.ModeBreaking
	}
	result, err := differ.DiffWithOptions(
		differ.WithSourceFilePath(fileA),
		differ.WithTargetFilePath(fileB),
		differ.WithMode(mode),
		differ.WithIncludeInfo(true),
	)
	if err != nil {
		// Unparseable documents behave like a tool that printed nothing.
		return RawDiffOutput{Stderr: []byte(err.Error()), ExitCode: 2}, nil
	}

	diffs := make([]oastoolsDifference, 0, len(result.Changes))
	for _, c := range result.Changes {
		d := oastoolsDifference{
			Path:     c.Path,
			Type:     string(c.Type),
			Category: string(c.Category),
			Message:  c.Message,
		}
		if o.Breaking {
			d.Severity = c.Severity.String()
		}
		diffs = append(diffs, d)
	}

	stdout, err := json.Marshal(map[string]any{"differences": diffs})
	if err != nil {
		return RawDiffOutput{}, fmt.Errorf("failed to encode differences: %w", err)
	}
	exit := 0
	if len(diffs) > 0 {
		exit = 1
	}
	return RawDiffOutput{Stdout: stdout, ExitCode: exit}, nil
}
