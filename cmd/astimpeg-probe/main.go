package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/k-danil/go-astimpeg"
	"github.com/pkg/profile"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Flags
var (
	cpuProfile  = flag.String("cpuprofile", "", "if set, a CPU profile is written in this directory")
	dump        = flag.Bool("dump", false, "if yes, every access unit is printed")
	format      = flag.String("format", "", "the container format (ts or ps), detected when empty")
	logFile     = flag.String("log-file", "", "if set, logs are written to this file with rotation")
	logMaxSize  = flag.Int("log-max-size", 100, "the max size in megabytes of the log file before it gets rotated")
	memProfile  = flag.String("memprofile", "", "if set, a memory profile is written in this directory")
	remux       = flag.String("remux", "", "if set, the first input is remuxed into this file")
	remuxFormat = flag.String("remux-format", "ts", "the container format of the remuxed file")
)

type streamKey struct {
	program uint16
	pid     uint16
}

type streamStats struct {
	bytes      int
	corrupted  int
	count      int
	firstPTS   int64
	keyframes  int
	lastPTS    int64
	streamType astimpeg.StreamType
}

type report struct {
	format  astimpeg.ContainerFormat
	path    string
	streams map[streamKey]*streamStats
	tables  []string
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] file...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Logger
	var w io.Writer = os.Stderr
	if *logFile != "" {
		lj := &lumberjack.Logger{
			Filename: *logFile,
			MaxSize:  *logMaxSize,
		}
		defer lj.Close()
		w = lj
	}
	l := log.New(w, "astimpeg-probe: ", log.LstdFlags)

	// Profiling
	switch {
	case *cpuProfile != "":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*cpuProfile), profile.NoShutdownHook).Stop()
	case *memProfile != "":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(*memProfile), profile.NoShutdownHook).Stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, l, flag.Args()); err != nil {
		l.Println(err)
		os.Exit(1)
	}
}

func run(ctx context.Context, l *log.Logger, paths []string) error {
	// Demux every input concurrently, each one with its own demuxer
	reports := make([]*report, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for idx, path := range paths {
		idx, path := idx, path
		g.Go(func() (err error) {
			if reports[idx], err = probe(gctx, l, path); err != nil {
				return fmt.Errorf("probing %s failed: %w", path, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range reports {
		r.print(os.Stdout)
	}

	if *remux != "" {
		if err := remuxFile(ctx, l, paths[0], *remux); err != nil {
			return fmt.Errorf("remuxing %s failed: %w", paths[0], err)
		}
	}
	return nil
}

// open opens path and returns its container format
func open(path string) (*os.File, astimpeg.ContainerFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}

	if *format != "" {
		cf, err := astimpeg.ParseContainerFormat(*format)
		if err != nil {
			f.Close()
			return nil, 0, err
		}
		return f, cf, nil
	}

	head := make([]byte, 8)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		f.Close()
		return nil, 0, fmt.Errorf("reading header failed: %w", err)
	}
	cf, ok := astimpeg.DetectContainerFormat(head[:n])
	if !ok {
		f.Close()
		return nil, 0, fmt.Errorf("%s: %w", path, astimpeg.ErrUnknownFormat)
	}
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("seeking failed: %w", err)
	}
	return f, cf, nil
}

func probe(ctx context.Context, l *log.Logger, path string) (*report, error) {
	f, cf, err := open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := &report{
		format:  cf,
		path:    path,
		streams: make(map[streamKey]*streamStats),
	}
	h := func(au *astimpeg.AccessUnit) error {
		k := streamKey{program: au.Program, pid: au.PID}
		s, ok := r.streams[k]
		if !ok {
			s = &streamStats{firstPTS: au.PTS, streamType: au.StreamType}
			r.streams[k] = s
		}
		s.count++
		s.bytes += len(au.Data)
		if au.IsKeyframe() {
			s.keyframes++
		}
		if au.Flags&astimpeg.FlagCorrupt > 0 {
			s.corrupted++
		}
		if au.PTS != astimpeg.PTSNoValue {
			if s.firstPTS == astimpeg.PTSNoValue {
				s.firstPTS = au.PTS
			}
			s.lastPTS = au.PTS
		}
		if *dump {
			fmt.Printf("%s: program %d pid %#x %s pts %d dts %d flags %#x size %d\n", path, au.Program, au.PID,
				au.StreamType, au.PTS, au.DTS, au.Flags, len(au.Data))
		}
		return nil
	}

	switch cf {
	case astimpeg.FormatTS:
		d := astimpeg.NewTSDemuxer(h, astimpeg.TSDemuxerOptLogger(l))
		if err = astimpeg.DemuxFrom(ctx, d, f); err != nil {
			return nil, err
		}
		r.tables = append(r.tables, fmt.Sprintf("packet size %d", d.PacketSize()))
		for _, p := range d.Programs() {
			r.tables = append(r.tables, p.String())
			for _, s := range p.Streams {
				r.tables = append(r.tables, fmt.Sprintf("  pid %#x: %s", s.PID, s.StreamType))
			}
		}
		for _, s := range d.Services() {
			if sd := s.Service(); sd != nil {
				r.tables = append(r.tables, fmt.Sprintf("service %d: %s (%s)", s.ServiceID, sd.Name, sd.Provider))
			}
		}
	case astimpeg.FormatPS:
		d := astimpeg.NewPSDemuxer(h, astimpeg.PSDemuxerOptLogger(l))
		if err = astimpeg.DemuxFrom(ctx, d, f); err != nil {
			return nil, err
		}
		if ph := d.PackHeader(); ph != nil {
			r.tables = append(r.tables, fmt.Sprintf("mux rate %d bytes/s, mpeg-1 %v", int(ph.ProgramMuxRate)*50, ph.MPEG1))
		}
		if psm := d.ProgramStreamMap(); psm != nil {
			r.tables = append(r.tables, fmt.Sprintf("PSM version %d", psm.Version))
			for _, es := range psm.ElementaryStreams {
				r.tables = append(r.tables, fmt.Sprintf("  stream id %#x: %s", es.ElementaryStreamID, es.StreamType))
			}
		}
	}
	return r, nil
}

func (r *report) print(w io.Writer) {
	fmt.Fprintf(w, "%s (%s)\n", r.path, r.format)
	for _, t := range r.tables {
		fmt.Fprintf(w, "  %s\n", t)
	}

	keys := make([]streamKey, 0, len(r.streams))
	for k := range r.streams {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].program != keys[j].program {
			return keys[i].program < keys[j].program
		}
		return keys[i].pid < keys[j].pid
	})
	for _, k := range keys {
		s := r.streams[k]
		var d time.Duration
		if s.firstPTS != astimpeg.PTSNoValue {
			d = astimpeg.TimestampDuration(s.lastPTS - s.firstPTS)
		}
		fmt.Fprintf(w, "  program %d pid %#x %s: %d access units (%d keyframes, %d corrupted), %d bytes, %s\n",
			k.program, k.pid, s.streamType, s.count, s.keyframes, s.corrupted, s.bytes, d)
	}
}

func remuxFile(ctx context.Context, l *log.Logger, in, out string) error {
	f, cf, err := open(in)
	if err != nil {
		return err
	}
	defer f.Close()

	of, err := astimpeg.ParseContainerFormat(*remuxFormat)
	if err != nil {
		return err
	}
	o, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating %s failed: %w", out, err)
	}
	defer o.Close()

	m, err := astimpeg.NewMuxer(of, o, l)
	if err != nil {
		return err
	}

	streams := make(map[streamKey]int)
	d, err := astimpeg.NewDemuxer(cf, func(au *astimpeg.AccessUnit) (err error) {
		k := streamKey{program: au.Program, pid: au.PID}
		id, ok := streams[k]
		if !ok {
			if id, err = m.AddStream(au.StreamType, nil); err != nil {
				return fmt.Errorf("adding %s stream failed: %w", au.StreamType, err)
			}
			streams[k] = id
		}
		return m.Write(id, au.Flags&^astimpeg.FlagCorrupt, au.PTS, au.DTS, au.Data)
	}, l)
	if err != nil {
		return err
	}
	if err = astimpeg.DemuxFrom(ctx, d, f); err != nil {
		return err
	}

	if c, ok := m.(io.Closer); ok {
		if err = c.Close(); err != nil {
			return err
		}
	}
	l.Printf("%s remuxed into %s (%s)", in, out, of)
	return nil
}
