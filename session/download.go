package session

import (
	"context"
	"fmt"

	"github.com/LoveWonYoung/udsdiag/flash"
	"github.com/LoveWonYoung/udsdiag/tp"
	"github.com/LoveWonYoung/udsdiag/uds"
)

// transferOverhead is the SID and block sequence counter of TransferData.
const transferOverhead = 2

// Progress is called after every acknowledged TransferData block.
type Progress func(done, total int)

// Download writes every segment of img with RequestDownload, TransferData
// and RequestTransferExit. The block sequence counter starts at 1 for each
// segment and wraps from 0xFF to 0x00.
func (s *Session) Download(ctx context.Context, img *flash.Image, progress Progress) error {
	if img == nil || len(img.Segments) == 0 {
		return flash.ErrEmptyImage
	}
	total := img.Size()
	done := 0
	for _, seg := range img.Segments {
		n, err := s.downloadSegment(ctx, seg, func(sent int) {
			if progress != nil {
				progress(done+sent, total)
			}
		})
		if err != nil {
			return fmt.Errorf("segment 0x%08X: %w", seg.Address, err)
		}
		done += n
	}
	return nil
}

func (s *Session) downloadSegment(ctx context.Context, seg flash.Segment, progress func(int)) (int, error) {
	resp, err := s.request(ctx, uds.RequestDownload(seg.Address, uint32(len(seg.Data))))
	if err != nil {
		return 0, err
	}
	maxLen, err := uds.ParseRequestDownload(resp)
	if err != nil {
		return 0, err
	}
	blockSize := min(maxLen, tp.MaxPayloadLength) - transferOverhead
	s.log.Debugf("download 0x%08X: %d bytes in blocks of %d", seg.Address, len(seg.Data), blockSize)

	sent := 0
	counter := byte(1)
	for _, block := range seg.Blocks(blockSize) {
		resp, err := s.request(ctx, uds.TransferData(counter, block))
		if err != nil {
			return sent, err
		}
		if err := uds.ParseTransferData(resp, counter); err != nil {
			return sent, fmt.Errorf("block %d: %w", counter, err)
		}
		sent += len(block)
		progress(sent)
		counter++
	}

	resp, err = s.request(ctx, uds.RequestTransferExit())
	if err != nil {
		return sent, err
	}
	return sent, uds.ParseRequestTransferExit(resp)
}
