package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"flowguard/ml"
)

func newPredictCmd(a *app) *cobra.Command {
	var raw string
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Classify one feature map with the published model",
		Long:  `Reads {"features":{...}} or a bare {"name":value} object from --features or stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = strings.NewReader(raw)
			if raw == "" {
				in = cmd.InOrStdin()
			}
			features, err := readFeatures(in)
			if err != nil {
				return err
			}

			handle, err := a.modelHandle(a.artifactStore(), nil)
			if err != nil {
				return err
			}
			result, err := handle.Predict(features)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&raw, "features", "", "Feature map as JSON")
	return cmd
}

func readFeatures(r io.Reader) (map[string]float64, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Features map[string]float64 `json:"features"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil && wrapped.Features != nil {
		return wrapped.Features, nil
	}
	var bare map[string]float64
	if err := json.Unmarshal(payload, &bare); err != nil {
		return nil, fmt.Errorf("%w: %v", ml.ErrInputInvalid, err)
	}
	return bare, nil
}
