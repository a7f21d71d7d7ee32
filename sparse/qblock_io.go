package sparse

import (
	"fmt"
	"math"

	"github.com/diagon-project/diagon"
	"github.com/diagon-project/diagon/store"
)

// On-disk layout for segment S:
//
//	S_qblock.idx           config and statistics (carries num_documents;
//	                       loading fails without it)
//	S_qblock_quant.bin     quantization map and bin representatives
//	S_qblock_cells.bin     [term][bin][window] cell contents
//	S_qblock_fwd.bin       CSR forward index
const (
	qblockIdxMagic   uint32 = 0x44514958 // "DQIX"
	qblockQuantMagic uint32 = 0x44515154 // "DQQT"
	qblockCellsMagic uint32 = 0x44514342 // "DQCB"
)

// Save writes the index under the segment name and syncs every file.
func (q *QBlockIndex) Save(dir store.Directory, segment string) error {
	type section struct {
		name  string
		write func(*store.IndexOutput) error
	}
	sections := []section{
		{store.SegmentFileName(segment, "qblock", "idx"), q.writeIdx},
		{store.SegmentFileName(segment, "qblock_quant", "bin"), q.writeQuant},
		{store.SegmentFileName(segment, "qblock_cells", "bin"), q.writeCells},
		{store.SegmentFileName(segment, "qblock_fwd", "bin"), func(out *store.IndexOutput) error {
			return writeForward(out, q.forward)
		}},
	}

	var files []string
	for _, sec := range sections {
		out, err := dir.CreateOutput(sec.name, store.IOContextDefault)
		if err != nil {
			return err
		}
		if err := sec.write(out); err != nil {
			_ = out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		files = append(files, sec.name)
	}
	return dir.Sync(files)
}

func (q *QBlockIndex) writeIdx(out *store.IndexOutput) error {
	if err := out.WriteUint32(qblockIdxMagic); err != nil {
		return err
	}
	if err := out.WriteUint32(sparseVersion); err != nil {
		return err
	}
	if err := out.WriteUint32(q.cfg.NumBins); err != nil {
		return err
	}
	if err := out.WriteUint32(q.cfg.WindowSize); err != nil {
		return err
	}
	if err := out.WriteUint32(math.Float32bits(q.cfg.Alpha)); err != nil {
		return err
	}
	if err := out.WriteByte(byte(q.cfg.Mode)); err != nil {
		return err
	}
	if err := out.WriteUint32(uint32(q.cfg.FixedTopK)); err != nil {
		return err
	}
	var flags byte
	if q.cfg.UseMMap {
		flags |= 1
	}
	if q.cfg.UsePrefetch {
		flags |= 2
	}
	if err := out.WriteByte(flags); err != nil {
		return err
	}
	if err := out.WriteByte(byte(q.cfg.ChunkPower)); err != nil {
		return err
	}
	if err := out.WriteUint32(q.cfg.NumDimensions); err != nil {
		return err
	}
	if err := out.WriteUint32(q.numDocs); err != nil {
		return err
	}
	if err := out.WriteUint32(q.numWindows); err != nil {
		return err
	}
	return out.WriteUint64(q.numPostings)
}

func (q *QBlockIndex) writeQuant(out *store.IndexOutput) error {
	if err := out.WriteUint32(qblockQuantMagic); err != nil {
		return err
	}
	if err := out.WriteUint32(sparseVersion); err != nil {
		return err
	}
	if err := out.WriteBytes(q.quantMap[:]); err != nil {
		return err
	}
	if err := out.WriteUint32(math.Float32bits(q.maxWeight)); err != nil {
		return err
	}
	if err := out.WriteUvarint(uint64(len(q.quantVal))); err != nil {
		return err
	}
	for _, v := range q.quantVal {
		if err := out.WriteUint32(math.Float32bits(v)); err != nil {
			return err
		}
	}
	return nil
}

func (q *QBlockIndex) writeCells(out *store.IndexOutput) error {
	if err := out.WriteUint32(qblockCellsMagic); err != nil {
		return err
	}
	if err := out.WriteUint32(sparseVersion); err != nil {
		return err
	}
	for t := uint32(0); t < q.cfg.NumDimensions; t++ {
		for b := uint32(0); b < q.cfg.NumBins; b++ {
			if err := out.WriteUvarint(uint64(q.blockSizes[t][b])); err != nil {
				return err
			}
			if q.blockSizes[t][b] == 0 {
				continue
			}
			for w := uint32(0); w < q.numWindows; w++ {
				cell := q.blocks[t][b][w]
				if err := out.WriteUvarint(uint64(len(cell))); err != nil {
					return err
				}
				for _, local := range cell {
					if err := out.WriteUvarint(uint64(local)); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// LoadQBlockIndex reads an index saved under the segment name. The .idx
// metadata must carry the document count; the scores buffer is sized from
// it, never grown lazily.
func LoadQBlockIndex(dir store.Directory, segment string) (*QBlockIndex, error) {
	q := &QBlockIndex{}

	in, err := dir.OpenInput(store.SegmentFileName(segment, "qblock", "idx"), store.IOContextReadMostly)
	if err != nil {
		return nil, err
	}
	err = q.readIdx(in)
	_ = in.Close()
	if err != nil {
		return nil, err
	}

	in, err = dir.OpenInput(store.SegmentFileName(segment, "qblock_quant", "bin"), store.IOContextReadMostly)
	if err != nil {
		return nil, err
	}
	err = q.readQuant(in)
	_ = in.Close()
	if err != nil {
		return nil, err
	}

	in, err = dir.OpenInput(store.SegmentFileName(segment, "qblock_cells", "bin"), store.IOContextReadMostly)
	if err != nil {
		return nil, err
	}
	err = q.readCells(in)
	_ = in.Close()
	if err != nil {
		return nil, err
	}

	in, err = dir.OpenInput(store.SegmentFileName(segment, "qblock_fwd", "bin"), store.IOContextReadMostly)
	if err != nil {
		return nil, err
	}
	q.forward, err = readForward(in)
	_ = in.Close()
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (q *QBlockIndex) readIdx(in store.IndexInput) error {
	magic, err := in.ReadUint32()
	if err != nil || magic != qblockIdxMagic {
		return fmt.Errorf("sparse: qblock idx bad magic: %w", diagon.ErrCorrupt)
	}
	version, err := in.ReadUint32()
	if err != nil || version != sparseVersion {
		return fmt.Errorf("sparse: qblock idx version: %w", diagon.ErrCorrupt)
	}

	numBins, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("sparse: qblock idx: %v: %w", err, diagon.ErrCorrupt)
	}
	windowSize, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("sparse: qblock idx: %v: %w", err, diagon.ErrCorrupt)
	}
	alphaBits, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("sparse: qblock idx: %v: %w", err, diagon.ErrCorrupt)
	}
	mode, err := in.ReadByte()
	if err != nil {
		return fmt.Errorf("sparse: qblock idx: %v: %w", err, diagon.ErrCorrupt)
	}
	fixedTopK, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("sparse: qblock idx: %v: %w", err, diagon.ErrCorrupt)
	}
	flags, err := in.ReadByte()
	if err != nil {
		return fmt.Errorf("sparse: qblock idx: %v: %w", err, diagon.ErrCorrupt)
	}
	chunkPower, err := in.ReadByte()
	if err != nil {
		return fmt.Errorf("sparse: qblock idx: %v: %w", err, diagon.ErrCorrupt)
	}
	dims, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("sparse: qblock idx: %v: %w", err, diagon.ErrCorrupt)
	}
	numDocs, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("sparse: qblock idx missing num_documents: %w", diagon.ErrCorrupt)
	}
	numWindows, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("sparse: qblock idx: %v: %w", err, diagon.ErrCorrupt)
	}
	numPostings, err := in.ReadUint64()
	if err != nil {
		return fmt.Errorf("sparse: qblock idx: %v: %w", err, diagon.ErrCorrupt)
	}

	q.cfg = QBlockConfig{
		NumBins:       numBins,
		WindowSize:    windowSize,
		Alpha:         math.Float32frombits(alphaBits),
		Mode:          SelectionMode(mode),
		FixedTopK:     int(fixedTopK),
		UseMMap:       flags&1 != 0,
		UsePrefetch:   flags&2 != 0,
		ChunkPower:    int(chunkPower),
		NumDimensions: dims,
	}
	if err := q.cfg.validate(); err != nil {
		return err
	}
	q.numDocs = numDocs
	q.numWindows = numWindows
	q.numPostings = numPostings

	wantWindows := (numDocs + windowSize - 1) / windowSize
	if numWindows != wantWindows {
		return fmt.Errorf("sparse: qblock idx windows %d inconsistent with %d docs: %w",
			numWindows, numDocs, diagon.ErrCorrupt)
	}
	return nil
}

func (q *QBlockIndex) readQuant(in store.IndexInput) error {
	magic, err := in.ReadUint32()
	if err != nil || magic != qblockQuantMagic {
		return fmt.Errorf("sparse: qblock quant bad magic: %w", diagon.ErrCorrupt)
	}
	version, err := in.ReadUint32()
	if err != nil || version != sparseVersion {
		return fmt.Errorf("sparse: qblock quant version: %w", diagon.ErrCorrupt)
	}
	if err := in.ReadBytes(q.quantMap[:]); err != nil {
		return fmt.Errorf("sparse: qblock quant map: %v: %w", err, diagon.ErrCorrupt)
	}
	maxBits, err := in.ReadUint32()
	if err != nil {
		return fmt.Errorf("sparse: qblock quant: %v: %w", err, diagon.ErrCorrupt)
	}
	q.maxWeight = math.Float32frombits(maxBits)

	n, err := in.ReadUvarint()
	if err != nil {
		return fmt.Errorf("sparse: qblock quant: %v: %w", err, diagon.ErrCorrupt)
	}
	if uint32(n) != q.cfg.NumBins {
		return fmt.Errorf("sparse: qblock quant has %d bins, idx says %d: %w",
			n, q.cfg.NumBins, diagon.ErrCorrupt)
	}
	q.quantVal = make([]float32, n)
	for i := range q.quantVal {
		bits, err := in.ReadUint32()
		if err != nil {
			return fmt.Errorf("sparse: qblock quant: %v: %w", err, diagon.ErrCorrupt)
		}
		q.quantVal[i] = math.Float32frombits(bits)
	}
	return nil
}

func (q *QBlockIndex) readCells(in store.IndexInput) error {
	magic, err := in.ReadUint32()
	if err != nil || magic != qblockCellsMagic {
		return fmt.Errorf("sparse: qblock cells bad magic: %w", diagon.ErrCorrupt)
	}
	version, err := in.ReadUint32()
	if err != nil || version != sparseVersion {
		return fmt.Errorf("sparse: qblock cells version: %w", diagon.ErrCorrupt)
	}

	q.blocks = make([][][][]uint32, q.cfg.NumDimensions)
	q.blockSizes = make([][]uint32, q.cfg.NumDimensions)
	for t := uint32(0); t < q.cfg.NumDimensions; t++ {
		q.blocks[t] = make([][][]uint32, q.cfg.NumBins)
		q.blockSizes[t] = make([]uint32, q.cfg.NumBins)
		for b := uint32(0); b < q.cfg.NumBins; b++ {
			total, err := in.ReadUvarint()
			if err != nil {
				return fmt.Errorf("sparse: qblock cells: %v: %w", err, diagon.ErrCorrupt)
			}
			q.blockSizes[t][b] = uint32(total)
			q.blocks[t][b] = make([][]uint32, q.numWindows)
			if total == 0 {
				continue
			}
			var got uint64
			for w := uint32(0); w < q.numWindows; w++ {
				n, err := in.ReadUvarint()
				if err != nil {
					return fmt.Errorf("sparse: qblock cells: %v: %w", err, diagon.ErrCorrupt)
				}
				if n == 0 {
					continue
				}
				cell := make([]uint32, n)
				for i := range cell {
					local, err := in.ReadUvarint()
					if err != nil {
						return fmt.Errorf("sparse: qblock cells: %v: %w", err, diagon.ErrCorrupt)
					}
					if uint32(local) >= q.cfg.WindowSize {
						return fmt.Errorf("sparse: qblock local id %d >= window size: %w",
							local, diagon.ErrCorrupt)
					}
					cell[i] = uint32(local)
				}
				q.blocks[t][b][w] = cell
				got += n
			}
			if got != total {
				return fmt.Errorf("sparse: qblock cell count %d, expected %d: %w",
					got, total, diagon.ErrCorrupt)
			}
		}
	}
	return nil
}
