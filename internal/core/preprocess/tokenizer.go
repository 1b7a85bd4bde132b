package preprocess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/daulet/tokenizers"
	"github.com/go-resty/resty/v2"
)

const (
	TokenizerFile       = "tokenizer.json"
	TokenizerConfigFile = "tokenizer_config.json"

	hubBaseURL = "https://huggingface.co"
)

type Tokenizer interface {
	Encode(text string) []int32

	Decode(ids []int32, skipSpecialTokens bool) string

	// PadID is negative when the tokenizer defines no padding token.
	PadID() int32

	EOSID() int32

	Save(dir string) error

	Close() error
}

type HFTokenizer struct {
	tk     *tokenizers.Tokenizer
	raw    []byte
	config []byte
	padID  int32
	eosID  int32
}

var _ Tokenizer = (*HFTokenizer)(nil)

// LoadTokenizer loads a tokenizer from a local model directory, or from the
// HuggingFace hub when nameOrPath is not a directory.
func LoadTokenizer(ctx context.Context, nameOrPath string) (*HFTokenizer, error) {
	if info, err := os.Stat(nameOrPath); err == nil && info.IsDir() {
		return LoadTokenizerDir(nameOrPath)
	}
	return LoadTokenizerFromHub(ctx, nameOrPath)
}

func LoadTokenizerDir(dir string) (*HFTokenizer, error) {
	raw, err := os.ReadFile(filepath.Join(dir, TokenizerFile))
	if err != nil {
		return nil, fmt.Errorf("error reading tokenizer from %s: %w", dir, err)
	}

	config, err := os.ReadFile(filepath.Join(dir, TokenizerConfigFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading tokenizer config from %s: %w", dir, err)
	}

	return NewHFTokenizer(raw, config)
}

func LoadTokenizerFromHub(ctx context.Context, repo string) (*HFTokenizer, error) {
	client := resty.New().
		SetBaseURL(hubBaseURL).
		SetTimeout(2 * time.Minute).
		SetRetryCount(2)
	if token := os.Getenv("HF_TOKEN"); token != "" {
		client.SetAuthToken(token)
	}

	fetch := func(file string) ([]byte, int, error) {
		res, err := client.R().
			SetContext(ctx).
			SetPathParams(map[string]string{"repo": repo, "file": file}).
			Get("/{repo}/resolve/main/{file}")
		if err != nil {
			return nil, 0, fmt.Errorf("error downloading %s for %s: %w", file, repo, err)
		}
		return res.Body(), res.StatusCode(), nil
	}

	raw, status, err := fetch(TokenizerFile)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, fmt.Errorf("error downloading %s for %s: status %d", TokenizerFile, repo, status)
	}

	config, status, err := fetch(TokenizerConfigFile)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		slog.Warn("tokenizer config not available", "repo", repo, "status", status)
		config = nil
	}

	slog.Info("downloaded tokenizer", "repo", repo)

	return NewHFTokenizer(raw, config)
}

func NewHFTokenizer(raw, config []byte) (*HFTokenizer, error) {
	tk, err := tokenizers.FromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("error loading tokenizer: %w", err)
	}

	padID, eosID, err := specialTokenIds(raw, config)
	if err != nil {
		tk.Close()
		return nil, err
	}

	return &HFTokenizer{tk: tk, raw: raw, config: config, padID: padID, eosID: eosID}, nil
}

func (t *HFTokenizer) Encode(text string) []int32 {
	ids, _ := t.tk.Encode(text, true)
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}

func (t *HFTokenizer) Decode(ids []int32, skipSpecialTokens bool) string {
	in := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if id < 0 {
			continue
		}
		in = append(in, uint32(id))
	}
	return t.tk.Decode(in, skipSpecialTokens)
}

func (t *HFTokenizer) PadID() int32 { return t.padID }

func (t *HFTokenizer) EOSID() int32 { return t.eosID }

func (t *HFTokenizer) Save(dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("error creating tokenizer dir %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, TokenizerFile), t.raw, 0644); err != nil {
		return fmt.Errorf("error saving tokenizer: %w", err)
	}
	if len(t.config) > 0 {
		if err := os.WriteFile(filepath.Join(dir, TokenizerConfigFile), t.config, 0644); err != nil {
			return fmt.Errorf("error saving tokenizer config: %w", err)
		}
	}
	return nil
}

func (t *HFTokenizer) Close() error {
	return t.tk.Close()
}

type addedToken struct {
	Id      int32  `json:"id"`
	Content string `json:"content"`
}

// specialToken accepts both the plain string and the AddedToken object form
// used by tokenizer_config.json.
type specialToken string

func (s *specialToken) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*s = specialToken(plain)
		return nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*s = specialToken(obj.Content)
	return nil
}

func specialTokenIds(raw, config []byte) (int32, int32, error) {
	var tokenizerJSON struct {
		AddedTokens []addedToken `json:"added_tokens"`
	}
	if err := json.Unmarshal(raw, &tokenizerJSON); err != nil {
		return 0, 0, fmt.Errorf("error parsing tokenizer: %w", err)
	}

	ids := make(map[string]int32, len(tokenizerJSON.AddedTokens))
	for _, tok := range tokenizerJSON.AddedTokens {
		ids[tok.Content] = tok.Id
	}

	var tokenizerConfig struct {
		PadToken specialToken `json:"pad_token"`
		EosToken specialToken `json:"eos_token"`
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &tokenizerConfig); err != nil {
			return 0, 0, fmt.Errorf("error parsing tokenizer config: %w", err)
		}
	}

	lookup := func(token specialToken, fallbacks ...string) int32 {
		if id, ok := ids[string(token)]; ok && token != "" {
			return id
		}
		for _, f := range fallbacks {
			if id, ok := ids[f]; ok {
				return id
			}
		}
		return -1
	}

	eosID := lookup(tokenizerConfig.EosToken, "</s>", "<|endoftext|>", "<|end_of_text|>", "<eos>")
	padID := lookup(tokenizerConfig.PadToken, "<pad>", "[PAD]")
	if padID < 0 {
		// Causal LM tokenizers commonly reuse eos for padding.
		padID = eosID
	}

	if strings.TrimSpace(string(tokenizerConfig.PadToken)) != "" && padID < 0 {
		slog.Warn("pad token not found in tokenizer vocabulary", "pad_token", tokenizerConfig.PadToken)
	}

	return padID, eosID, nil
}
