package preprocess

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type Dataset struct {
	InputIDs      [][]int32
	AttentionMask [][]int32
	Labels        [][]int32
}

type Row struct {
	InputIDs      []int32 `json:"input_ids"`
	AttentionMask []int32 `json:"attention_mask"`
	Labels        []int32 `json:"labels"`
}

func (d *Dataset) Len() int {
	return len(d.InputIDs)
}

func (d *Dataset) Row(i int) Row {
	return Row{InputIDs: d.InputIDs[i], AttentionMask: d.AttentionMask[i], Labels: d.Labels[i]}
}

// WriteJSONL writes one JSON row per example.
func (d *Dataset) WriteJSONL(w io.Writer) error {
	buf := bufio.NewWriter(w)
	encoder := json.NewEncoder(buf)
	for i := 0; i < d.Len(); i++ {
		if err := encoder.Encode(d.Row(i)); err != nil {
			return fmt.Errorf("error writing row %d: %w", i, err)
		}
	}
	return buf.Flush()
}

func (d *Dataset) SaveJSONL(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating dataset file: %w", err)
	}
	defer file.Close()

	if err := d.WriteJSONL(file); err != nil {
		return err
	}
	return file.Close()
}

func ReadJSONL(r io.Reader) (*Dataset, error) {
	dataset := &Dataset{}
	decoder := json.NewDecoder(r)
	for {
		var row Row
		if err := decoder.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("error reading row %d: %w", dataset.Len(), err)
		}
		dataset.InputIDs = append(dataset.InputIDs, row.InputIDs)
		dataset.AttentionMask = append(dataset.AttentionMask, row.AttentionMask)
		dataset.Labels = append(dataset.Labels, row.Labels)
	}
	return dataset, nil
}

func LoadJSONL(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening dataset file: %w", err)
	}
	defer file.Close()
	return ReadJSONL(file)
}
