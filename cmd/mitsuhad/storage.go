// Copyright 2025 James Ross
package main

import (
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/config"
	"github.com/flyingrobots/mitsuha/internal/rawstorage"
	"github.com/flyingrobots/mitsuha/internal/storagechan"
)

// builtBackend pairs a constructed storage backend with the label/pattern
// its config entry declared, for handing to storagechan.Labeled/Muxed.
type builtBackend struct {
	label   string
	pattern string
	backend rawstorage.RawStorage
}

// buildBackends constructs one rawstorage.RawStorage per configured entry,
// wrapping it in a Compressing decorator when a compress threshold is set.
func buildBackends(cfgs []config.StorageBackend) ([]builtBackend, error) {
	out := make([]builtBackend, 0, len(cfgs))
	for _, c := range cfgs {
		var backend rawstorage.RawStorage
		switch c.Kind {
		case "memory", "":
			backend = rawstorage.NewMemory(time.Now)
		case "s3":
			sess, err := session.NewSession(aws.NewConfig())
			if err != nil {
				return nil, fmt.Errorf("storage backend %q: new aws session: %w", c.Label, err)
			}
			backend = rawstorage.NewS3(s3.New(sess), c.S3Bucket, c.S3Prefix)
		default:
			return nil, fmt.Errorf("storage backend %q: unknown kind %q", c.Label, c.Kind)
		}

		if c.CompressThreshold > 0 {
			compressed, err := rawstorage.NewCompressing(backend, c.CompressThreshold)
			if err != nil {
				return nil, fmt.Errorf("storage backend %q: compressing wrapper: %w", c.Label, err)
			}
			backend = compressed
		}

		out = append(out, builtBackend{label: c.Label, pattern: c.MatchPattern, backend: backend})
	}
	return out, nil
}

// gcBackends collects every constructed backend that supports garbage
// collection, for handing to scheduler.NewGCSweep.
func gcBackends(built []builtBackend) []rawstorage.GarbageCollectable {
	var out []rawstorage.GarbageCollectable
	for _, b := range built {
		if gc, ok := b.backend.(rawstorage.GarbageCollectable); ok {
			out = append(out, gc)
		}
	}
	return out
}

// buildStorageChannel assembles the storagechan link for the chain: a
// single Labeled channel over the sole configured backend in "labeled"
// mode, or a Muxed channel in "muxed" mode. When muxed mode declares more
// than one backend, a rawstorage.Router fans storage ops out across them
// by handle pattern first, and storagechan.Muxed's own rules (serving only
// extension tagging at that point) point every pattern at the Router.
func buildStorageChannel(id string, mode string, built []builtBackend) (channel.Channel, error) {
	if len(built) == 0 {
		return nil, fmt.Errorf("storage: no backends configured")
	}

	switch mode {
	case "labeled":
		return storagechan.NewLabeled(id, built[0].backend, built[0].label), nil
	case "muxed":
		rules := make([]storagechan.Rule, 0, len(built))
		var backend rawstorage.RawStorage
		if len(built) == 1 {
			backend = built[0].backend
		} else {
			routerRules := make([]rawstorage.RouterRule, 0, len(built))
			for _, b := range built {
				re, err := regexp.Compile(b.pattern)
				if err != nil {
					return nil, fmt.Errorf("storage backend %q: invalid match_pattern: %w", b.label, err)
				}
				routerRules = append(routerRules, rawstorage.RouterRule{Pattern: re, Backend: b.backend})
			}
			backend = rawstorage.NewRouter(routerRules)
		}
		for _, b := range built {
			re, err := regexp.Compile(b.pattern)
			if err != nil {
				return nil, fmt.Errorf("storage backend %q: invalid match_pattern: %w", b.label, err)
			}
			rules = append(rules, storagechan.Rule{Pattern: re, Label: b.label})
		}
		return storagechan.NewMuxed(id, backend, rules), nil
	default:
		return nil, fmt.Errorf("storage: unknown mode %q", mode)
	}
}
