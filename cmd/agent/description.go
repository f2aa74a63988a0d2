package main

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/warpcomdev/edgevisiond/internal/inference"
	"github.com/warpcomdev/edgevisiond/internal/preprocess"
)

// descriptionVocab is a small fixed vocabulary standing in for the
// description model's real tokenizer (tokenization is opaque per the
// model's catalog entry); detokenize argmaxes each vocab-wide chunk of the
// model's output into a word from this list.
var descriptionVocab = []string{
	"a", "person", "people", "car", "vehicle", "walking", "standing",
	"near", "the", "entrance", "parking", "lot", "door", "camera", "view",
	"scene", "shows", "is", "are", "moving", "stationary", "empty",
}

// maxDescriptionChars caps the detokenized description text length, per
// spec §4.6.
const maxDescriptionChars = 200

// modelDescriber runs the shared description session and detokenizes its
// output into a bounded-length scene description plus an embedding. It
// reuses the same output tensor for both the description text and the
// embedding since Manager's single-output-tensor binding doesn't expose
// separate token-id and hidden-state bindings; a real deployment would
// split these across two output tensors in the model's ONNX graph.
type modelDescriber struct {
	inf   *inference.Manager
	vocab []string
}

func (d *modelDescriber) Describe(ctx context.Context, img image.Image) (string, []float32, error) {
	tensor := preprocess.CHWTensor(img, descriptionInputSize)
	out, err := d.inf.Run(ctx, inference.ModelDescription, tensor)
	if err != nil {
		return "", nil, fmt.Errorf("run description model: %w", err)
	}
	return detokenize(out, d.vocab), out, nil
}

// noopDescriber reports every frame as undescribable, used when the
// description model is disabled by configuration.
type noopDescriber struct{}

func (noopDescriber) Describe(context.Context, image.Image) (string, []float32, error) {
	return "", nil, fmt.Errorf("description model disabled")
}

// detokenize interprets logits as a sequence of len(vocab)-wide chunks and
// argmaxes each chunk into a vocabulary word, joining the result into a
// description capped at maxDescriptionChars.
func detokenize(logits []float32, vocab []string) string {
	if len(vocab) == 0 || len(logits) < len(vocab) {
		return ""
	}
	var words []string
	for i := 0; i+len(vocab) <= len(logits); i += len(vocab) {
		best, bestIdx := logits[i], 0
		for j := 1; j < len(vocab); j++ {
			if logits[i+j] > best {
				best = logits[i+j]
				bestIdx = j
			}
		}
		words = append(words, vocab[bestIdx])
	}
	text := strings.Join(words, " ")
	if len(text) > maxDescriptionChars {
		text = text[:maxDescriptionChars]
	}
	return text
}
