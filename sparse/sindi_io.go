package sparse

import (
	"fmt"
	"math"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/column"
	"github.com/diagon-project/diagon/columnar"
	"github.com/diagon-project/diagon/store"
)

// On-disk layout for segment S:
//
//	S_sindi.idx            config and statistics
//	S_sindi_blocks.bin     per-term block tables and term max weights
//	S_sindi_fwd.bin        CSR forward index
//	S_sindi_t<T>_d.col     doc ids of term T (u32 column)
//	S_sindi_t<T>_w.col     weights of term T (f32 column)
//
// Terms with empty posting lists write no column files; the block table
// records zero blocks for them.
const (
	sindiIdxMagic uint32 = 0x44534958 // "DSIX"
	sindiBinMagic uint32 = 0x44534242 // "DSBB"
	fwdMagic      uint32 = 0x44465744 // "DFWD"
	sparseVersion uint32 = 1
)

// Save writes the index under the segment name and syncs every file.
func (s *SindiIndex) Save(dir store.Directory, segment string) error {
	var files []string

	idxName := store.SegmentFileName(segment, "sindi", "idx")
	out, err := dir.CreateOutput(idxName, store.IOContextDefault)
	if err != nil {
		return err
	}
	if err := s.writeIdx(out); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	files = append(files, idxName)

	binName := store.SegmentFileName(segment, "sindi_blocks", "bin")
	out, err = dir.CreateOutput(binName, store.IOContextDefault)
	if err != nil {
		return err
	}
	if err := s.writeBlocks(out); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	files = append(files, binName)

	fwdName := store.SegmentFileName(segment, "sindi_fwd", "bin")
	out, err = dir.CreateOutput(fwdName, store.IOContextDefault)
	if err != nil {
		return err
	}
	if err := writeForward(out, s.forward); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	files = append(files, fwdName)

	for t := uint32(0); t < s.cfg.NumDimensions; t++ {
		if len(s.termDocIDs[t]) == 0 {
			continue
		}
		dName, err := writeU32Column(dir, segment, fmt.Sprintf("sindi_t%d_d", t), s.termDocIDs[t])
		if err != nil {
			return err
		}
		wName, err := writeF32Column(dir, segment, fmt.Sprintf("sindi_t%d_w", t), s.termWeights[t])
		if err != nil {
			return err
		}
		files = append(files, dName, wName)
	}

	return dir.Sync(files)
}

func (s *SindiIndex) writeIdx(out *store.IndexOutput) error {
	if err := out.WriteUint32(sindiIdxMagic); err != nil {
		return err
	}
	if err := out.WriteUint32(sparseVersion); err != nil {
		return err
	}
	if err := out.WriteUint32(uint32(s.cfg.BlockSize)); err != nil {
		return err
	}
	var flags byte
	if s.cfg.UseBlockMax {
		flags |= 1
	}
	if s.cfg.UseSIMD {
		flags |= 2
	}
	if s.cfg.UseMMap {
		flags |= 4
	}
	if s.cfg.UsePrefetch {
		flags |= 8
	}
	if err := out.WriteByte(flags); err != nil {
		return err
	}
	if err := out.WriteByte(byte(s.cfg.ChunkPower)); err != nil {
		return err
	}
	if err := out.WriteUint32(s.cfg.NumDimensions); err != nil {
		return err
	}
	if err := out.WriteUint32(s.numDocs); err != nil {
		return err
	}
	return out.WriteUint64(s.numPostings)
}

func (s *SindiIndex) writeBlocks(out *store.IndexOutput) error {
	if err := out.WriteUint32(sindiBinMagic); err != nil {
		return err
	}
	if err := out.WriteUint32(sparseVersion); err != nil {
		return err
	}
	if err := out.WriteUvarint(uint64(len(s.termBlocks))); err != nil {
		return err
	}
	for t, blocks := range s.termBlocks {
		if err := out.WriteUvarint(uint64(len(blocks))); err != nil {
			return err
		}
		for _, b := range blocks {
			if err := out.WriteUvarint(uint64(b.Offset)); err != nil {
				return err
			}
			if err := out.WriteUvarint(uint64(b.Count)); err != nil {
				return err
			}
			if err := out.WriteUint32(math.Float32bits(b.MaxWeight)); err != nil {
				return err
			}
		}
		if err := out.WriteUint32(math.Float32bits(s.maxTermWeights[t])); err != nil {
			return err
		}
	}
	return nil
}

// Load reads an index saved under the segment name. The configuration
// stored in the .idx file replaces build-time options.
func LoadSindiIndex(dir store.Directory, segment string) (*SindiIndex, error) {
	s := &SindiIndex{}

	in, err := dir.OpenInput(store.SegmentFileName(segment, "sindi", "idx"), store.IOContextReadMostly)
	if err != nil {
		return nil, err
	}
	err = s.readIdx(in)
	_ = in.Close()
	if err != nil {
		return nil, err
	}

	in, err = dir.OpenInput(store.SegmentFileName(segment, "sindi_blocks", "bin"), store.IOContextReadMostly)
	if err != nil {
		return nil, err
	}
	err = s.readBlocks(in)
	_ = in.Close()
	if err != nil {
		return nil, err
	}

	in, err = dir.OpenInput(store.SegmentFileName(segment, "sindi_fwd", "bin"), store.IOContextReadMostly)
	if err != nil {
		return nil, err
	}
	s.forward, err = readForward(in)
	_ = in.Close()
	if err != nil {
		return nil, err
	}

	s.termDocIDs = make([][]uint32, s.cfg.NumDimensions)
	s.termWeights = make([][]float32, s.cfg.NumDimensions)
	for t := uint32(0); t < s.cfg.NumDimensions; t++ {
		if len(s.termBlocks[t]) == 0 {
			continue
		}
		s.termDocIDs[t], err = readU32Column(dir, segment, fmt.Sprintf("sindi_t%d_d", t))
		if err != nil {
			return nil, err
		}
		s.termWeights[t], err = readF32Column(dir, segment, fmt.Sprintf("sindi_t%d_w", t))
		if err != nil {
			return nil, err
		}
		if len(s.termDocIDs[t]) != len(s.termWeights[t]) {
			return nil, fmt.Errorf("sparse: term %d doc/weight length mismatch: %w", t, diagon.ErrCorrupt)
		}
	}
	return s, nil
}

func (s *SindiIndex) readIdx(in store.IndexInput) error {
	magic, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("sparse: sindi idx: %v: %w", err, diagon.ErrCorrupt)
	}
	if magic != sindiIdxMagic {
		return fmt.Errorf("sparse: sindi idx bad magic 0x%08x: %w", magic, diagon.ErrCorrupt)
	}
	version, err := in.ReadUint32()
	if err != nil || version != sparseVersion {
		return fmt.Errorf("sparse: sindi idx version: %w", diagon.ErrCorrupt)
	}

	blockSize, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("sparse: sindi idx: %v: %w", err, diagon.ErrCorrupt)
	}
	flags, err := in.ReadByte()
	if err != nil {
		return fmt.Errorf("sparse: sindi idx: %v: %w", err, diagon.ErrCorrupt)
	}
	chunkPower, err := in.ReadByte()
	if err != nil {
		return fmt.Errorf("sparse: sindi idx: %v: %w", err, diagon.ErrCorrupt)
	}
	dims, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("sparse: sindi idx: %v: %w", err, diagon.ErrCorrupt)
	}
	numDocs, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("sparse: sindi idx: %v: %w", err, diagon.ErrCorrupt)
	}
	numPostings, err := in.ReadUint64()
	if err != nil {
		return fmt.Errorf("sparse: sindi idx: %v: %w", err, diagon.ErrCorrupt)
	}

	s.cfg = SindiConfig{
		BlockSize:     int(blockSize),
		UseBlockMax:   flags&1 != 0,
		UseSIMD:       flags&2 != 0,
		UseMMap:       flags&4 != 0,
		UsePrefetch:   flags&8 != 0,
		ChunkPower:    int(chunkPower),
		NumDimensions: dims,
	}
	if err := s.cfg.validate(); err != nil {
		return err
	}
	s.numDocs = numDocs
	s.numPostings = numPostings
	return nil
}

func (s *SindiIndex) readBlocks(in store.IndexInput) error {
	magic, err := in.ReadUint32()
	if err != nil || magic != sindiBinMagic {
		return fmt.Errorf("sparse: sindi blocks bad magic: %w", diagon.ErrCorrupt)
	}
	version, err := in.ReadUint32()
	if err != nil || version != sparseVersion {
		return fmt.Errorf("sparse: sindi blocks version: %w", diagon.ErrCorrupt)
	}
	numTerms, err := in.ReadUvarint()
	if err != nil {
		return fmt.Errorf("sparse: sindi blocks: %v: %w", err, diagon.ErrCorrupt)
	}
	if uint32(numTerms) != s.cfg.NumDimensions {
		return fmt.Errorf("sparse: block table has %d terms, idx says %d: %w",
			numTerms, s.cfg.NumDimensions, diagon.ErrCorrupt)
	}

	s.termBlocks = make([][]BlockMeta, numTerms)
	s.maxTermWeights = make([]float32, numTerms)
	for t := range s.termBlocks {
		count, err := in.ReadUvarint()
		if err != nil {
			return fmt.Errorf("sparse: sindi blocks: %v: %w", err, diagon.ErrCorrupt)
		}
		blocks := make([]BlockMeta, count)
		for i := range blocks {
			off, err := in.ReadUvarint()
			if err != nil {
				return fmt.Errorf("sparse: sindi blocks: %v: %w", err, diagon.ErrCorrupt)
			}
			cnt, err := in.ReadUvarint()
			if err != nil {
				return fmt.Errorf("sparse: sindi blocks: %v: %w", err, diagon.ErrCorrupt)
			}
			bitsMax, err := in.ReadUint32()
			if err != nil {
				return fmt.Errorf("sparse: sindi blocks: %v: %w", err, diagon.ErrCorrupt)
			}
			blocks[i] = BlockMeta{Offset: uint32(off), Count: uint32(cnt), MaxWeight: math.Float32frombits(bitsMax)}
		}
		s.termBlocks[t] = blocks

		bitsTermMax, err := in.ReadUint32()
		if err != nil {
			return fmt.Errorf("sparse: sindi blocks: %v: %w", err, diagon.ErrCorrupt)
		}
		s.maxTermWeights[t] = math.Float32frombits(bitsTermMax)
	}
	return nil
}

func writeForward(out *store.IndexOutput, f *ForwardIndex) error {
	if err := out.WriteUint32(fwdMagic); err != nil {
		return err
	}
	if err := out.WriteUint32(sparseVersion); err != nil {
		return err
	}
	if err := out.WriteUvarint(uint64(len(f.indptr))); err != nil {
		return err
	}
	for _, v := range f.indptr {
		if err := out.WriteUint32(v); err != nil {
			return err
		}
	}
	if err := out.WriteUvarint(uint64(len(f.indices))); err != nil {
		return err
	}
	for _, v := range f.indices {
		if err := out.WriteUint32(v); err != nil {
			return err
		}
	}
	for _, v := range f.values {
		if err := out.WriteUint32(math.Float32bits(v)); err != nil {
			return err
		}
	}
	return nil
}

func readForward(in store.IndexInput) (*ForwardIndex, error) {
	magic, err := in.ReadUint32()
	if err != nil || magic != fwdMagic {
		return nil, fmt.Errorf("sparse: forward index bad magic: %w", diagon.ErrCorrupt)
	}
	version, err := in.ReadUint32()
	if err != nil || version != sparseVersion {
		return nil, fmt.Errorf("sparse: forward index version: %w", diagon.ErrCorrupt)
	}

	ptrLen, err := in.ReadUvarint()
	if err != nil || ptrLen == 0 {
		return nil, fmt.Errorf("sparse: forward index indptr: %w", diagon.ErrCorrupt)
	}
	f := &ForwardIndex{indptr: make([]uint32, ptrLen)}
	for i := range f.indptr {
		if f.indptr[i], err = in.ReadUint32(); err != nil {
			return nil, fmt.Errorf("sparse: forward index indptr: %v: %w", err, diagon.ErrCorrupt)
		}
	}

	n, err := in.ReadUvarint()
	if err != nil {
		return nil, fmt.Errorf("sparse: forward index postings: %v: %w", err, diagon.ErrCorrupt)
	}
	f.indices = make([]uint32, n)
	f.values = make([]float32, n)
	for i := range f.indices {
		if f.indices[i], err = in.ReadUint32(); err != nil {
			return nil, fmt.Errorf("sparse: forward index indices: %v: %w", err, diagon.ErrCorrupt)
		}
	}
	for i := range f.values {
		bits, err := in.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("sparse: forward index values: %v: %w", err, diagon.ErrCorrupt)
		}
		f.values[i] = math.Float32frombits(bits)
	}
	return f, nil
}

func writeU32Column(dir store.Directory, segment, name string, vals []uint32) (string, error) {
	w, err := columnar.NewWriter(dir, segment, name, column.TypeUInt32)
	if err != nil {
		return "", err
	}
	col := w.Column()
	for _, v := range vals {
		if err := col.AppendUInt32(v); err != nil {
			return "", err
		}
		if err := w.MaybeFlush(); err != nil {
			return "", err
		}
	}
	return w.FileName(), w.Finish()
}

func writeF32Column(dir store.Directory, segment, name string, vals []float32) (string, error) {
	w, err := columnar.NewWriter(dir, segment, name, column.TypeFloat32)
	if err != nil {
		return "", err
	}
	col := w.Column()
	for _, v := range vals {
		if err := col.AppendFloat32(v); err != nil {
			return "", err
		}
		if err := w.MaybeFlush(); err != nil {
			return "", err
		}
	}
	return w.FileName(), w.Finish()
}

func readU32Column(dir store.Directory, segment, name string) ([]uint32, error) {
	r, err := columnar.OpenReader(dir, segment, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out := make([]uint32, 0, r.NumRows())
	for i := range r.Granules() {
		col, err := r.ReadGranule(i)
		if err != nil {
			return nil, err
		}
		for row := 0; row < col.Rows(); row++ {
			v, err := col.UInt32At(row)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func readF32Column(dir store.Directory, segment, name string) ([]float32, error) {
	r, err := columnar.OpenReader(dir, segment, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out := make([]float32, 0, r.NumRows())
	for i := range r.Granules() {
		col, err := r.ReadGranule(i)
		if err != nil {
			return nil, err
		}
		for row := 0; row < col.Rows(); row++ {
			v, err := col.Float32At(row)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}
