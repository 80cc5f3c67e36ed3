package main

import (
	"fmt"
	"strings"

	"github.com/zsiec/simulcast/internal/distribution"
)

func describeStream(info distribution.StreamInfo) string {
	var parts []string

	if info.Width > 0 && info.Height > 0 {
		parts = append(parts, fmt.Sprintf("%dx%d", info.Width, info.Height))
	}
	if info.Codec != "" {
		parts = append(parts, strings.ToUpper(info.Codec))
	}
	switch info.Layers {
	case 0:
	case 1:
		parts = append(parts, "1 layer")
	default:
		parts = append(parts, fmt.Sprintf("%d layers", info.Layers))
	}
	if info.ForwardedLayer != nil {
		parts = append(parts, fmt.Sprintf("forwarding L%d", *info.ForwardedLayer))
	}

	return strings.Join(parts, " · ")
}
