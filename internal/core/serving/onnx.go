package serving

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	ModelFile = "model.onnx"

	inputIDsName      = "input_ids"
	attentionMaskName = "attention_mask"
	positionIDsName   = "position_ids"
	logitsName        = "logits"
)

// OnnxModel runs a causal language model exported with a logits output of
// shape [batch, sequence, vocab].
type OnnxModel struct {
	session *ort.DynamicAdvancedSession
	inputs  []string
}

func LoadOnnxModel(modelDir string, useCuda bool) (*OnnxModel, error) {
	modelPath := filepath.Join(modelDir, ModelFile)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("error finding %s in %s: %w", ModelFile, modelDir, err)
	}

	inputInfo, _, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("error reading model inputs: %w", err)
	}

	var inputs []string
	for _, info := range inputInfo {
		switch info.Name {
		case inputIDsName, attentionMaskName, positionIDsName:
			inputs = append(inputs, info.Name)
		default:
			return nil, fmt.Errorf("unsupported model input '%s'", info.Name)
		}
	}
	if !slices.Contains(inputs, inputIDsName) {
		return nil, fmt.Errorf("model has no '%s' input", inputIDsName)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if useCuda {
		if err := appendCuda(options); err != nil {
			slog.Warn("CUDA unavailable, falling back to CPU", "error", err)
		} else {
			slog.Info("using CUDA execution provider", "model", modelDir)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, []string{logitsName}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &OnnxModel{session: session, inputs: inputs}, nil
}

func appendCuda(options *ort.SessionOptions) error {
	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOptions.Destroy()

	return options.AppendExecutionProviderCUDA(cudaOptions)
}

func (m *OnnxModel) NextTokenLogits(ctx context.Context, ids []int32) ([]float32, error) {
	L := int64(len(ids))
	shape := ort.NewShape(1, L)

	values := make([]ort.Value, 0, len(m.inputs))
	defer func() {
		for _, v := range values {
			v.Destroy()
		}
	}()

	for _, name := range m.inputs {
		data := make([]int64, L)
		for i := range data {
			switch name {
			case inputIDsName:
				data[i] = int64(ids[i])
			case attentionMaskName:
				data[i] = 1
			case positionIDsName:
				data[i] = int64(i)
			}
		}

		tensor, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, err
		}
		values = append(values, tensor)
	}

	outputs := []ort.Value{nil}
	if err := m.session.Run(values, outputs); err != nil {
		return nil, fmt.Errorf("session run error: %w", err)
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected logits type %T", outputs[0])
	}

	outShape := logits.GetShape()
	if len(outShape) != 3 || outShape[1] != L {
		return nil, fmt.Errorf("unexpected logits shape %v", outShape)
	}

	vocab := outShape[2]
	flat := logits.GetData()
	last := make([]float32, vocab)
	copy(last, flat[(L-1)*vocab:L*vocab])

	return last, nil
}

func (m *OnnxModel) Close() error {
	return m.session.Destroy()
}
