//go:build onnx

// Package onnx embeds text locally with a MiniLM sentence-transformer model
// through ONNX Runtime. Build with -tags onnx.
package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-companion/memory"
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string

	// TokenizerPath is the path to the tokenizer.json file.
	TokenizerPath string

	// LibraryPath points at libonnxruntime. Empty uses the runtime's default lookup.
	LibraryPath string

	// Dimensions is the embedding vector size. Default: 384 (all-MiniLM-L6-v2)
	Dimensions int

	// SeqLen is the fixed input length. Default: 128
	SeqLen int
}

// Embedder generates embeddings using ONNX Runtime.
type Embedder struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *Tokenizer
	dims      int
	seqLen    int
	logger    *zap.Logger

	// DynamicAdvancedSession.Run is not safe for concurrent use.
	mu sync.Mutex
}

var _ memory.Embedder = (*Embedder)(nil)

var initOnce sync.Once
var initErr error

// New loads the model and tokenizer.
func New(cfg Config, logger *zap.Logger) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.SeqLen == 0 {
		cfg.SeqLen = 128
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	initOnce.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", initErr)
	}

	tokenizer, err := LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	logger = logger.Named("onnx")
	logger.Info("embedding model loaded",
		zap.String("model", cfg.ModelPath),
		zap.Int("dimensions", cfg.Dimensions),
	)

	return &Embedder{
		session:   session,
		tokenizer: tokenizer,
		dims:      cfg.Dimensions,
		seqLen:    cfg.SeqLen,
		logger:    logger,
	}, nil
}

// Embed converts text to a unit-length embedding.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ids, mask := e.tokenizer.Encode(text, e.seqLen)
	shape := ort.NewShape(1, int64(e.seqLen))

	idsTensor, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, make([]int64, e.seqLen))
	if err != nil {
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	e.mu.Lock()
	err = e.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}

	data := out.GetData()
	shapeOut := out.GetShape()
	switch len(shapeOut) {
	case 2:
		// Model already pools: [1, dims]
		if len(data) < e.dims {
			return nil, fmt.Errorf("output dimension mismatch: got %d, expected %d", len(data), e.dims)
		}
		return normalize(append([]float32(nil), data[:e.dims]...)), nil
	case 3:
		// [1, seqLen, dims]
		if shapeOut[2] != int64(e.dims) {
			return nil, fmt.Errorf("hidden size mismatch: got %d, expected %d", shapeOut[2], e.dims)
		}
		return normalize(meanPool(data, mask, e.dims)), nil
	default:
		return nil, fmt.Errorf("unexpected output shape %v", shapeOut)
	}
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dims
}

// Close releases the session.
func (e *Embedder) Close() error {
	if e.session == nil {
		return nil
	}
	return e.session.Destroy()
}
