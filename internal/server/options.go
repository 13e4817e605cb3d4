package server

import (
	"strconv"
	"time"

	"github.com/wjholden/gotftpd/internal/packet"
)

// negotiatedOptions collects the subset of requested options this server
// accepts, alongside the values the rest of the server needs to act on
// them. Option parsing follows the same blksize/timeout/tsize switch the
// teacher implementation uses, rejecting out-of-range values by simply
// not including them in accepted (RFC 2347: unacceptable options are
// omitted from the OACK, never cause an ERROR).
type negotiatedOptions struct {
	accepted  packet.OptionSet
	blockSize int
	timeout   time.Duration
}

// negotiateOptions applies req against this server's limits. tsize is the
// file size to report back for an RRQ's "tsize" option (0 means "unknown",
// used for WRQ where the client's declared size is echoed verbatim
// instead).
func negotiateOptions(req packet.OptionSet, tsize int64, isWrite bool) negotiatedOptions {
	out := negotiatedOptions{
		accepted:  packet.NewOptionSet(),
		blockSize: packet.MaxBlockSize,
	}

	if v, ok := req.Get("blksize"); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 8 && n <= 65464 {
			out.blockSize = n
			out.accepted.Set("blksize", strconv.Itoa(n))
		}
	}

	if v, ok := req.Get("timeout"); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 255 {
			out.timeout = time.Duration(n) * time.Second
			out.accepted.Set("timeout", strconv.Itoa(n))
		}
	}

	if v, ok := req.Get("tsize"); ok {
		if isWrite {
			// Echo the client's declared size verbatim; this server does
			// not pre-allocate or enforce it.
			out.accepted.Set("tsize", v)
		} else {
			out.accepted.Set("tsize", strconv.FormatInt(tsize, 10))
		}
	}

	return out
}
