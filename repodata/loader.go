// Package repodata maintains the per-(channel, platform) index cache:
// freshness-checked repodata documents staged on local disk.
/*
 * Copyright (c) 2022-2024, Marmot Authors. All rights reserved.
 */
package repodata

import (
	"context"
	"sync"

	"github.com/marmot-pm/marmot/channel"
	"github.com/marmot-pm/marmot/cmn"
	"github.com/marmot-pm/marmot/dload"
	"go.uber.org/zap"
)

// LoadAll creates and loads a SubdirData per channel x platform, bounded
// by workers. A subdir that does not exist on its channel is downgraded
// to an empty index for noarch (channels routinely serve only the native
// platforms); any other failure is fatal for the whole load.
func LoadAll(ctx context.Context, channels []*channel.Channel, opts Options,
	dl *dload.Downloader, log *zap.SugaredLogger, workers int) ([]*SubdirData, error) {
	var subdirs []*SubdirData
	for _, ch := range channels {
		chOpts := opts
		if opts.HeaderFor != nil {
			chOpts.Header = opts.HeaderFor(ch)
		}
		for _, platform := range ch.Platforms {
			subdirs = append(subdirs, New(ch, platform, chOpts, dl, log))
		}
	}

	var (
		wg   = cmn.NewLimitedWaitGroup(workers)
		mu   sync.Mutex
		errs []error
	)
	for _, sd := range subdirs {
		wg.Add(1)
		go func(sd *SubdirData) {
			defer wg.Done()
			err := sd.Load(ctx)
			if err == nil {
				return
			}
			if IsNotFound(err) && sd.Platform == channel.PlatformNoarch {
				log.Debugf("channel %s has no noarch subdir", sd.Channel.DisplayName)
				sd.MarkEmpty()
				return
			}
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(sd)
	}
	wg.Wait()

	if len(errs) > 0 {
		for _, err := range errs {
			if cmn.IsCancelled(err) {
				return nil, err
			}
		}
		return nil, errs[0]
	}
	return subdirs, nil
}
