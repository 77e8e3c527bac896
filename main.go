package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/T4ras123/GPT2-with-noise/IO"
	"github.com/T4ras123/GPT2-with-noise/optimizations"
	"github.com/T4ras123/GPT2-with-noise/params"
	"github.com/T4ras123/GPT2-with-noise/privacy"
	"github.com/T4ras123/GPT2-with-noise/transformer"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	noteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func main() {
	var (
		dataPath  = flag.String("data", "data/train.txt", "plain-text training corpus")
		encoding  = flag.String("tokenizer", "gpt2", "corpus encoding: gpt2 (tiktoken) or bpe (trained on the corpus)")
		outPath   = flag.String("out", "models/model.gob", "checkpoint output path")
		seed      = flag.Uint64("seed", 1337, "seed for init and noise")
		private   = flag.Bool("private", true, "train with per-example clipping and noise")
		prompt    = flag.String("generate", "", "after training, greedily sample from this prompt (gpt2 tokenizer only)")
		maxNew    = flag.Int("maxnew", 100, "tokens to sample after training")
		blockSize = flag.Int("block", 256, "context length")
		vocabSize = flag.Int("vocab", 50304, "vocabulary size (gpt2 ids need >= 50257)")
		nLayer    = flag.Int("layers", 6, "transformer blocks")
		nHead     = flag.Int("heads", 6, "attention heads")
		dModel    = flag.Int("dmodel", 384, "embedding width")
		batchSize = flag.Int("batch", 4, "micro-batch size (sequences)")

		totalBatch = flag.Int("totalbatch", 16384, "macro-batch size in tokens")
		maxSteps   = flag.Int("steps", 100, "macro-steps to train")
		warmup     = flag.Int("warmup", 10, "warmup steps")
		maxLR      = flag.Float64("lr", 6e-4, "max learning rate")
		minLR      = flag.Float64("minlr", 6e-5, "min learning rate")
		wd         = flag.Float64("wd", 0.1, "weight decay")
		gradClip   = flag.Float64("gradclip", 1.0, "global gradient-norm ceiling (<=0 disables)")

		clipNorm = flag.Float64("clip", 1.0, "per-example gradient clipping threshold C")
		noise    = flag.Float64("noise", 1.0, "noise multiplier sigma (std of injected noise is sigma*C)")
	)
	flag.Parse()

	mcfg := params.ModelConfig{
		BlockSize: *blockSize,
		VocabSize: *vocabSize,
		NLayer:    *nLayer,
		NHead:     *nHead,
		DModel:    *dModel,
		BatchSize: *batchSize,
	}
	tcfg := params.TrainConfig{
		TotalBatchTokens: *totalBatch,
		MaxSteps:         *maxSteps,
		WarmupSteps:      *warmup,
		MaxLR:            *maxLR,
		MinLR:            *minLR,
		WeightDecay:      *wd,
		AdamBeta1:        0.9,
		AdamBeta2:        0.95,
		AdamEps:          1e-8,
		GradClip:         *gradClip,
	}
	pcfg := params.PrivacyConfig{
		ClipNorm:        *clipNorm,
		NoiseMultiplier: *noise,
	}

	// Configuration errors are fatal before any training begins.
	if err := mcfg.Validate(); err != nil {
		fatal(err)
	}
	if err := tcfg.Validate(mcfg); err != nil {
		fatal(err)
	}
	if *private {
		if err := pcfg.Validate(); err != nil {
			fatal(err)
		}
	}

	fmt.Println(headerStyle.Render("GPT2-with-noise — differentially private GPT training"))

	tokens, err := IO.LoadTokens(*dataPath, *encoding, mcfg.VocabSize)
	if err != nil {
		fatal(err)
	}
	loader, err := IO.NewLoader(tokens, mcfg.BatchSize, mcfg.BlockSize)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Total tokens: %d\n", loader.Len())
	fmt.Printf("1 epoch = %d batches\n", loader.BatchesPerEpoch())

	model, err := transformer.New(mcfg, *seed)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Number of parameters: %d\n", model.NumParams())

	var src GradientSource
	if *private {
		engine, err := privacy.NewEngine(model, pcfg, *seed+1)
		if err != nil {
			fatal(err)
		}
		src = engine
		fmt.Println(noteStyle.Render(fmt.Sprintf(
			"privacy: per-example clip C=%g, noise sigma=%g (std %g per coordinate, once per macro-step)",
			pcfg.ClipNorm, pcfg.NoiseMultiplier, pcfg.NoiseMultiplier*pcfg.ClipNorm)))
	} else {
		src = privacy.NewBatched(model)
		fmt.Println(noteStyle.Render("privacy: disabled (plain batched gradients)"))
	}

	opt := optimizations.NewAdamW(model.Params(), tcfg.AdamBeta1, tcfg.AdamBeta2, tcfg.AdamEps, tcfg.WeightDecay)
	sched := optimizations.CosineSchedule{
		MaxLR:       tcfg.MaxLR,
		MinLR:       tcfg.MinLR,
		WarmupSteps: tcfg.WarmupSteps,
		MaxSteps:    tcfg.MaxSteps,
	}
	fmt.Printf("Gradient accumulation: %d micro-steps of %d x %d tokens\n",
		tcfg.GradAccumSteps(mcfg), mcfg.BatchSize, mcfg.BlockSize)

	if _, err := Train(model, loader, src, opt, sched, tcfg); err != nil {
		fatal(err)
	}

	if err := transformer.Save(model, *outPath); err != nil {
		fatal(err)
	}
	fmt.Printf("Saved checkpoint to %s\n", *outPath)

	if *prompt != "" {
		if *encoding != "gpt2" {
			fatal(fmt.Errorf("generation needs the gpt2 tokenizer for round-tripping text"))
		}
		enc, err := tiktoken.GetEncoding("gpt2")
		if err != nil {
			fatal(err)
		}
		ids := enc.Encode(*prompt, []string{IO.EndOfText}, nil)
		out, err := Generate(model, ids, *maxNew)
		if err != nil {
			fatal(err)
		}
		fmt.Println(headerStyle.Render("sample"))
		fmt.Println(enc.Decode(out))
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "fatal:", err)
	os.Exit(1)
}
