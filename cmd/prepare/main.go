// Command prepare turns raw corpora into the on-disk dataset layouts the
// trainer loads: train.bin/val.bin token streams for language modeling,
// train_data.json/val_data.json pairs for conditional fine-tuning.
package main

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/djeday123/gotune/data"
	"github.com/djeday123/gotune/tokenizer"
)

func main() {
	root := &cobra.Command{
		Use:           "prepare",
		Short:         "Prepare datasets for training",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newLMCmd(), newPairsCmd(), newFetchCmd())
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newLMCmd() *cobra.Command {
	var (
		pattern string
		outDir  string
		tokName string
		frac    float64
	)
	cmd := &cobra.Command{
		Use:   "lm",
		Short: "Tokenize raw text files into train.bin/val.bin",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := buildTokenizer(tokName)
			if err != nil {
				return err
			}
			text, err := data.CollectText(pattern)
			if err != nil {
				return err
			}
			if err := data.PrepareLM(text, tok, outDir, frac); err != nil {
				return err
			}
			log.Printf("wrote %s/train.bin and %s/val.bin", outDir, outDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&pattern, "glob", "", "input file glob, ** supported")
	cmd.Flags().StringVar(&outDir, "out", "", "output dataset directory")
	cmd.Flags().StringVar(&tokName, "tokenizer", "gpt2", "gpt2 or byte")
	cmd.Flags().Float64Var(&frac, "split", 0.9, "train fraction of the corpus")
	cmd.MarkFlagRequired("glob")
	cmd.MarkFlagRequired("out")
	return cmd
}

func newPairsCmd() *cobra.Command {
	var (
		csvPath string
		outDir  string
		tokName string
		frac    float64
		header  bool
	)
	cmd := &cobra.Command{
		Use:   "pairs",
		Short: "Tokenize a CSV of prompt/response pairs into train_data.json/val_data.json",
		Long: `Tokenize a CSV of prompt/response pairs.

With two columns, column 0 is the model input and column 1 the target.
With three or more, columns 0 and 1 are joined by a newline to form the
input (instruction plus context) and column 2 is the target.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := buildTokenizer(tokName)
			if err != nil {
				return err
			}
			inputs, targets, err := readPairsCSV(csvPath, header)
			if err != nil {
				return err
			}
			if err := data.PreparePairs(inputs, targets, tok, outDir, frac); err != nil {
				return err
			}
			log.Printf("wrote %d pairs under %s", len(inputs), outDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "input CSV file")
	cmd.Flags().StringVar(&outDir, "out", "", "output dataset directory")
	cmd.Flags().StringVar(&tokName, "tokenizer", "gpt2", "gpt2 or byte")
	cmd.Flags().Float64Var(&frac, "split", 0.9, "train fraction of the examples")
	cmd.Flags().BoolVar(&header, "header", true, "skip the first CSV row")
	cmd.MarkFlagRequired("csv")
	cmd.MarkFlagRequired("out")
	return cmd
}

func newFetchCmd() *cobra.Command {
	var (
		region string
		bucket string
		key    string
		dest   string
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download a corpus object from S3",
		RunE: func(cmd *cobra.Command, args []string) error {
			return data.FetchS3(region, bucket, key, dest)
		},
	}
	cmd.Flags().StringVar(&region, "region", "us-east-1", "S3 region")
	cmd.Flags().StringVar(&bucket, "bucket", "", "S3 bucket")
	cmd.Flags().StringVar(&key, "key", "", "object key")
	cmd.Flags().StringVar(&dest, "dest", "", "local destination path")
	cmd.MarkFlagRequired("bucket")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("dest")
	return cmd
}

func readPairsCSV(path string, header bool) (inputs, targets []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if header && len(records) > 0 {
		records = records[1:]
	}
	for i, rec := range records {
		switch {
		case len(rec) >= 3:
			inputs = append(inputs, rec[0]+"\n"+rec[1])
			targets = append(targets, rec[2])
		case len(rec) == 2:
			inputs = append(inputs, rec[0])
			targets = append(targets, rec[1])
		default:
			return nil, nil, fmt.Errorf("%s: row %d has %d columns, need at least 2", path, i+1, len(rec))
		}
	}
	if len(inputs) == 0 {
		return nil, nil, fmt.Errorf("%s: no example rows", path)
	}
	return inputs, targets, nil
}

func buildTokenizer(name string) (tokenizer.Tokenizer, error) {
	switch name {
	case "gpt2":
		return tokenizer.NewGPT2Tokenizer(), nil
	case "byte":
		return tokenizer.NewByteTokenizer(), nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}
