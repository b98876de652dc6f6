// Command sqstore creates, inspects, partitions and archives read stores.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/sqstore"
	"github.com/hupe1980/sqstore/archive"
	"github.com/hupe1980/sqstore/seqio"
)

const usage = `sqstore [-c config.toml] [-S store] <command> <command arguments>

Possible commands:
    create
    import <library file>...
    info
    check [-fix]
    partition -n <partitions> [-clone dir]
    delete-partitions
    dump [-p partition] [-clone dir] [-from id] [-to id] [-fasta]
    export
    import-archive
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "sqstore:", err)
		os.Exit(1)
	}
}

// cli carries what every command needs.
type cli struct {
	cfg    Config
	logger *sqstore.Logger
	opts   []sqstore.Option
	out    io.Writer
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fset := flag.NewFlagSet("sqstore", flag.ContinueOnError)
	fset.Usage = func() { fmt.Fprint(fset.Output(), usage) }
	configPath := fset.String("c", "", "TOML configuration file")
	storePath := fset.String("S", "", "store directory (overrides the config)")
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}
	if cfg.Store.Path == "" {
		return errors.New("no store path; use -S or set store.path")
	}
	level, err := cfg.logLevel()
	if err != nil {
		return err
	}
	logger := sqstore.NewTextLogger(level)
	opts, err := cfg.options(logger)
	if err != nil {
		return err
	}
	c := &cli{cfg: cfg, logger: logger, opts: opts, out: out}

	rest := fset.Args()
	if len(rest) == 0 {
		fset.Usage()
		return errors.New("no command")
	}
	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "create":
		return c.create()
	case "import":
		return c.importLibraries(cmdArgs)
	case "info":
		return c.info()
	case "check":
		return c.check(cmdArgs)
	case "partition":
		return c.partition(ctx, cmdArgs)
	case "delete-partitions":
		return c.deletePartitions()
	case "dump":
		return c.dump(cmdArgs)
	case "export":
		return c.export(ctx)
	case "import-archive":
		return c.importArchive(ctx)
	default:
		fset.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *cli) create() error {
	s, err := sqstore.Open(c.cfg.Store.Path, sqstore.ModeCreate, c.opts...)
	if err != nil {
		return err
	}
	return s.Close()
}

// openWritable creates the store or, when it exists, opens it for extension.
func (c *cli) openWritable() (*sqstore.Store, error) {
	s, err := sqstore.Open(c.cfg.Store.Path, sqstore.ModeCreate, c.opts...)
	if errors.Is(err, sqstore.ErrModeConflict) {
		return sqstore.Open(c.cfg.Store.Path, sqstore.ModeExtend, c.opts...)
	}
	return s, err
}

func (c *cli) importLibraries(args []string) (err error) {
	if len(args) == 0 {
		return errors.New("import: no library files")
	}
	libs := make([]libraryDesc, 0, len(args))
	for _, path := range args {
		lib, err := readLibraryFile(path)
		if err != nil {
			return err
		}
		libs = append(libs, lib)
	}

	s, err := c.openWritable()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()

	start := time.Now()
	firstRead := s.NumReads() + 1
	for _, desc := range libs {
		lib, err := s.AddEmptyLibrary(desc.Name)
		if err != nil {
			return err
		}
		if desc.Flags != 0 {
			if err := s.SetLibraryFlags(lib.ID, desc.Flags); err != nil {
				return err
			}
		}
		for _, path := range desc.Files {
			n, bases, err := loadFile(s, lib.ID, path)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s: %s reads, %s bases\n", path, humanize.Comma(int64(n)), humanize.Comma(int64(bases)))
		}
	}
	fmt.Fprintf(c.out, "loaded reads %d-%d in %s\n", firstRead, s.NumReads(), time.Since(start).Round(time.Millisecond))
	return nil
}

// loadFile adds every record of a FASTA or FASTQ file to library lib.
func loadFile(s *sqstore.Store, lib uint32, path string) (n int, bases uint64, err error) {
	f, err := seqio.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	for {
		rec, err := f.Next()
		if errors.Is(err, io.EOF) {
			return n, bases, nil
		}
		if err != nil {
			return n, bases, err
		}
		b, err := s.AddEmptyRead(lib)
		if err != nil {
			return n, bases, err
		}
		if _, err := b.SetName(rec.Name).SetSequence(rec.Seq, rec.Qual).Commit(); err != nil {
			return n, bases, fmt.Errorf("%s line %d: %w", path, f.Line(), err)
		}
		n++
		bases += uint64(len(rec.Seq))
	}
}

func (c *cli) info() error {
	s, err := sqstore.Open(c.cfg.Store.Path, sqstore.ModeReadOnly, c.opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.WriteInfoAsText(c.out); err != nil {
		return err
	}

	fmt.Fprintln(c.out)
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "library\tname\tflags")
	for id := uint32(1); id <= s.NumLibraries(); id++ {
		lib, err := s.GetLibrary(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", lib.ID, lib.Name, flagNames(lib.Flags))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	in := s.Info()
	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "%s reads, %s raw bases, %s in %d blob files\n",
		humanize.Comma(int64(in.NumReads)), humanize.Comma(int64(in.RawBases)),
		humanize.IBytes(storeBytes(c.cfg.Store.Path)), in.NumBlobs)
	return nil
}

func flagNames(f sqstore.LibraryFlags) string {
	var names []string
	for _, x := range []struct {
		flag sqstore.LibraryFlags
		name string
	}{
		{sqstore.TrimByDefault, "trim"},
		{sqstore.CorrectByDefault, "correct"},
		{sqstore.CheckForSubReads, "subreads"},
	} {
		if f&x.flag != 0 {
			names = append(names, x.name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

// storeBytes is the total size of the regular files under dir.
func storeBytes(dir string) uint64 {
	var total uint64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += uint64(fi.Size())
		}
		return nil
	})
	return total
}

func (c *cli) check(args []string) (err error) {
	fset := flag.NewFlagSet("check", flag.ContinueOnError)
	fix := fset.Bool("fix", false, "rewrite the counters from the catalog")
	if err := fset.Parse(args); err != nil {
		return err
	}

	if !*fix {
		s, err := sqstore.Open(c.cfg.Store.Path, sqstore.ModeReadOnly, c.opts...)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.CheckInfo(); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "ok")
		return nil
	}

	s, err := sqstore.Open(c.cfg.Store.Path, sqstore.ModeExtend, c.opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()
	if err := s.CheckInfo(); err == nil {
		fmt.Fprintln(c.out, "ok")
		return nil
	}
	if err := s.RecountReads(); err != nil {
		return err
	}
	if err := s.SetLastBlob(); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "counters rewritten")
	return nil
}

func (c *cli) partition(ctx context.Context, args []string) (err error) {
	fset := flag.NewFlagSet("partition", flag.ContinueOnError)
	n := fset.Uint("n", 0, "number of partitions")
	clone := fset.String("clone", "", "write partitions to this directory instead of the store")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *n == 0 {
		return errors.New("partition: -n must be positive")
	}

	s, err := sqstore.Open(c.cfg.Store.Path, sqstore.ModePartitionBuild, c.withClone(*clone)...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()

	lengths, err := s.ReadLengths()
	if err != nil {
		return err
	}
	assignment := sqstore.BalanceByBases(lengths, uint32(*n))
	if err := s.BuildPartitions(ctx, assignment); err != nil {
		return err
	}

	bases := make([]uint64, s.NumPartitions()+1)
	reads := make([]uint32, s.NumPartitions()+1)
	for id, p := range assignment {
		if id == 0 || p == 0 {
			continue
		}
		bases[p] += uint64(lengths[id])
		reads[p]++
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "partition\treads\tbases\t")
	for p := 1; p < len(bases); p++ {
		fmt.Fprintf(tw, "%d\t%s\t%s\t\n", p, humanize.Comma(int64(reads[p])), humanize.Comma(int64(bases[p])))
	}
	return tw.Flush()
}

func (c *cli) withClone(dir string) []sqstore.Option {
	if dir == "" {
		return c.opts
	}
	return append(slices.Clip(c.opts), sqstore.WithCloneDir(dir))
}

func (c *cli) deletePartitions() (err error) {
	s, err := sqstore.Open(c.cfg.Store.Path, sqstore.ModePartitionBuild, c.opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()
	return s.DeletePartitions()
}

func (c *cli) dump(args []string) error {
	fset := flag.NewFlagSet("dump", flag.ContinueOnError)
	part := fset.Uint("p", 0, "dump only this partition")
	clone := fset.String("clone", "", "directory the partitions were written to")
	from := fset.Uint("from", 1, "first read")
	to := fset.Uint("to", 0, "last read (default: all)")
	fasta := fset.Bool("fasta", false, "write FASTA even when qualities exist")
	if err := fset.Parse(args); err != nil {
		return err
	}

	var (
		s   *sqstore.Store
		err error
	)
	if *part > 0 {
		s, err = sqstore.OpenPartition(c.cfg.Store.Path, sqstore.PartitionID(*part), c.withClone(*clone)...)
	} else {
		s, err = sqstore.Open(c.cfg.Store.Path, sqstore.ModeReadOnly, c.opts...)
	}
	if err != nil {
		return err
	}
	defer s.Close()

	first := max(uint32(*from), 1)
	last := s.NumReads()
	if *to > 0 && uint32(*to) < last {
		last = uint32(*to)
	}
	for id := first; id <= last && id >= first; id++ {
		if !s.ReadInPartition(id) {
			continue
		}
		d, err := s.LoadReadDataByID(id)
		if errors.Is(err, sqstore.ErrNoPayload) {
			continue
		}
		if err != nil {
			return err
		}
		name := d.Name
		if name == "" {
			name = "read" + strconv.FormatUint(uint64(id), 10)
		}
		if *fasta || len(d.Qual) == 0 {
			_, err = fmt.Fprintf(c.out, ">%s\n%s\n", name, d.Seq)
		} else {
			_, err = fmt.Fprintf(c.out, "@%s\n%s\n+\n%s\n", name, d.Seq, d.Qual)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) export(ctx context.Context) error {
	dst, err := c.cfg.blobStore(ctx)
	if err != nil {
		return err
	}
	opts, err := c.cfg.archiveOptions(c.logger)
	if err != nil {
		return err
	}
	m, err := archive.Export(ctx, c.cfg.Store.Path, dst, c.cfg.Archive.Prefix, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "exported generation %d: %s reads, %d files, %s\n",
		m.Generation, humanize.Comma(int64(m.NumReads)), len(m.Entries), humanize.IBytes(uint64(m.TotalSize())))
	return nil
}

func (c *cli) importArchive(ctx context.Context) error {
	src, err := c.cfg.blobStore(ctx)
	if err != nil {
		return err
	}
	opts, err := c.cfg.archiveOptions(c.logger)
	if err != nil {
		return err
	}
	m, err := archive.Import(ctx, src, c.cfg.Archive.Prefix, c.cfg.Store.Path, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "imported generation %d: %s reads, %s\n",
		m.Generation, humanize.Comma(int64(m.NumReads)), humanize.IBytes(uint64(m.TotalSize())))
	return nil
}
