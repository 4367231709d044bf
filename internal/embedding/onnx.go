//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/tabwise/pkg/utils"
)

const defaultMaxTokens = 256

// Input and output names of the exported sentence-embedding graph.
var (
	onnxInputNames  = []string{"input_ids", "attention_mask", "token_type_ids"}
	onnxOutputNames = []string{"output"}
)

// ONNXEmbedder runs a local sentence-embedding model through ONNX Runtime.
// One session is shared; calls are serialized.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	io         *onnxTensors
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int
}

// onnxTensors are bound to the session once and refilled on every run.
type onnxTensors struct {
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

func newONNXTensors(dimensions, maxTokens int) (*onnxTensors, error) {
	t := &onnxTensors{}
	inputShape := ort.NewShape(1, int64(maxTokens))
	var err error
	if t.inputIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	if t.attentionMask, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		t.destroy()
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	if t.tokenTypeIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		t.destroy()
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	if t.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions))); err != nil {
		t.destroy()
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	return t, nil
}

func (t *onnxTensors) inputs() []ort.ArbitraryTensor {
	return []ort.ArbitraryTensor{t.inputIDs, t.attentionMask, t.tokenTypeIDs}
}

func (t *onnxTensors) load(inputIDs, attentionMask, tokenTypeIDs []int64) {
	copy(t.inputIDs.GetData(), inputIDs)
	copy(t.attentionMask.GetData(), attentionMask)
	copy(t.tokenTypeIDs.GetData(), tokenTypeIDs)
}

// destroy releases every allocated tensor. Nil entries are skipped.
func (t *onnxTensors) destroy() {
	if t.inputIDs != nil {
		_ = t.inputIDs.Destroy()
	}
	if t.attentionMask != nil {
		_ = t.attentionMask.Destroy()
	}
	if t.tokenTypeIDs != nil {
		_ = t.tokenTypeIDs.Destroy()
	}
	if t.output != nil {
		_ = t.output.Destroy()
	}
	*t = onnxTensors{}
}

// checkONNXArgs validates the model settings before the runtime is touched.
func checkONNXArgs(modelPath string, dimensions, maxTokens int) (int, error) {
	if modelPath == "" {
		return 0, errors.New("onnx embedder requires embedding.model_path")
	}
	if dimensions <= 0 {
		return 0, fmt.Errorf("onnx embedder: invalid dimensions %d", dimensions)
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if maxTokens < 2 {
		return 0, fmt.Errorf("onnx embedder: max_tokens %d leaves no room for text", maxTokens)
	}
	return maxTokens, nil
}

// NewONNXEmbedder loads the model at modelPath. maxTokens <= 0 means 256.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	maxTokens, err := checkONNXArgs(modelPath, dimensions, maxTokens)
	if err != nil {
		return nil, err
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("onnx runtime: %w", err)
		}
	}

	io, err := newONNXTensors(dimensions, maxTokens)
	if err != nil {
		return nil, err
	}
	session, err := ort.NewAdvancedSession(modelPath, onnxInputNames, onnxOutputNames,
		io.inputs(), []ort.ArbitraryTensor{io.output}, nil)
	if err != nil {
		io.destroy()
		return nil, fmt.Errorf("onnx session for %s: %w", modelPath, err)
	}
	return &ONNXEmbedder{
		session:    session,
		io:         io,
		tokenizer:  &SimpleTokenizer{},
		dimensions: dimensions,
		maxTokens:  maxTokens,
	}, nil
}

// Embed returns the unit-length model output for text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.New("onnx embedder is closed")
	}

	e.io.load(e.tokenizer.Tokenize(text, e.maxTokens))
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	vec := make([]float32, e.dimensions)
	copy(vec, e.io.output.GetData())
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch embeds texts one at a time.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close releases the session and its tensors. It is safe to call twice.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.io != nil {
		e.io.destroy()
		e.io = nil
	}
	return err
}
