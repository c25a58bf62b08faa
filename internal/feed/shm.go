package feed

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/betbot/bucketmm/internal/domain"
)

// 共享内存段布局（全部小端）：
//
//	header (64B): widx int64 [0:8] 已写入的总帧数
//	              reserved   [8:16]
//	              capacity int64 [16:24] 环容量（帧数）
//	              其余清零
//	frame  (64B): ts_ms int64 [0:8]
//	              yes_bid/yes_ask/no_bid/no_ask float64 [8:40]
//	              bucket_ts int64 [40:48]
//	              pad [48:64]
//
// 写者把帧写进槽位 widx%capacity，然后原子发布 widx+1。
// 价格以 float64 小数存储，段内格式与写者语言无关。
const (
	shmHeaderSize = 64
	shmFrameSize  = 64

	offWidx     = 0
	offCapacity = 16

	offFrameTsMs     = 0
	offFrameYesBid   = 8
	offFrameYesAsk   = 16
	offFrameNoBid    = 24
	offFrameNoAsk    = 32
	offFrameBucketTS = 40
)

// ShmPath 把段名解析成文件路径；带路径分隔符的名字原样使用
func ShmPath(name string) string {
	if strings.ContainsRune(name, os.PathSeparator) {
		return name
	}
	return filepath.Join("/dev/shm", name)
}

func encodeFrame(buf []byte, tob domain.TopOfBook) {
	binary.LittleEndian.PutUint64(buf[offFrameTsMs:], uint64(tob.TsMs))
	binary.LittleEndian.PutUint64(buf[offFrameYesBid:], math.Float64bits(tob.YesBid.ToDecimal()))
	binary.LittleEndian.PutUint64(buf[offFrameYesAsk:], math.Float64bits(tob.YesAsk.ToDecimal()))
	binary.LittleEndian.PutUint64(buf[offFrameNoBid:], math.Float64bits(tob.NoBid.ToDecimal()))
	binary.LittleEndian.PutUint64(buf[offFrameNoAsk:], math.Float64bits(tob.NoAsk.ToDecimal()))
	binary.LittleEndian.PutUint64(buf[offFrameBucketTS:], uint64(tob.BucketTS))
}

func decodeFrame(buf []byte) domain.TopOfBook {
	return domain.TopOfBook{
		TsMs:     int64(binary.LittleEndian.Uint64(buf[offFrameTsMs:])),
		YesBid:   domain.PriceFromDecimal(math.Float64frombits(binary.LittleEndian.Uint64(buf[offFrameYesBid:]))),
		YesAsk:   domain.PriceFromDecimal(math.Float64frombits(binary.LittleEndian.Uint64(buf[offFrameYesAsk:]))),
		NoBid:    domain.PriceFromDecimal(math.Float64frombits(binary.LittleEndian.Uint64(buf[offFrameNoBid:]))),
		NoAsk:    domain.PriceFromDecimal(math.Float64frombits(binary.LittleEndian.Uint64(buf[offFrameNoAsk:]))),
		BucketTS: int64(binary.LittleEndian.Uint64(buf[offFrameBucketTS:])),
	}
}

// RingWriter 共享内存环的单写者
type RingWriter struct {
	file     *os.File
	data     []byte
	widx     *atomic.Int64
	capacity int64
}

// OpenRingWriter 创建或接管共享内存环。
//
// 同名段已存在且容量一致时沿用其 widx（写者重启后继续写，读者无感知）；
// 容量不一致则重建段。
func OpenRingWriter(path string, capacity int) (*RingWriter, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("环容量必须大于 0: %d", capacity)
	}

	size := shmHeaderSize + capacity*shmFrameSize

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开共享内存段失败: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("读取段信息失败: %w", err)
	}

	reuse := st.Size() == int64(size)
	if !reuse {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("调整段大小失败: %w", err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap 失败: %w", err)
	}

	w := &RingWriter{
		file:     f,
		data:     data,
		widx:     (*atomic.Int64)(unsafe.Pointer(&data[offWidx])),
		capacity: int64(capacity),
	}

	existing := int64(binary.LittleEndian.Uint64(data[offCapacity:]))
	if !reuse || existing != int64(capacity) {
		// 重建：先清头部再写容量，widx 归零
		for i := 0; i < shmHeaderSize; i++ {
			data[i] = 0
		}
		binary.LittleEndian.PutUint64(data[offCapacity:], uint64(capacity))
	}

	return w, nil
}

// WriteSnapshot 把快照写入下一个槽位并发布
func (w *RingWriter) WriteSnapshot(tob domain.TopOfBook) error {
	widx := w.widx.Load()
	slot := widx % w.capacity

	var frame [shmFrameSize]byte
	encodeFrame(frame[:], tob)

	off := shmHeaderSize + slot*shmFrameSize
	copy(w.data[off:off+shmFrameSize], frame[:])

	w.widx.Store(widx + 1) // 发布：读者看到新 widx 时帧已写完
	return nil
}

// Written 返回已发布的总帧数
func (w *RingWriter) Written() int64 {
	return w.widx.Load()
}

// Close 解除映射并关闭文件（段文件保留，读者可继续读最后的数据）
func (w *RingWriter) Close() error {
	if w.data != nil {
		if err := unix.Munmap(w.data); err != nil {
			return err
		}
		w.data = nil
		w.widx = nil
	}
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}

// RingReader 共享内存环的读者（可以有任意多个）
type RingReader struct {
	file     *os.File
	data     []byte
	widx     *atomic.Int64
	capacity int64
}

// OpenRingReader 以只读方式附着到共享内存环
func OpenRingReader(path string) (*RingReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开共享内存段失败: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("读取段信息失败: %w", err)
	}
	if st.Size() < shmHeaderSize+shmFrameSize {
		f.Close()
		return nil, fmt.Errorf("共享内存段过小: %d 字节", st.Size())
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap 失败: %w", err)
	}

	r := &RingReader{
		file: f,
		data: data,
		widx: (*atomic.Int64)(unsafe.Pointer(&data[offWidx])),
	}
	r.capacity = int64(binary.LittleEndian.Uint64(data[offCapacity:]))
	return r, nil
}

// Load 返回最新发布的快照。
//
// 撕裂检测：复制帧后重读 widx，如果写者在复制期间推进了接近一整圈
// （可能套圈覆盖了我们正在读的槽位），丢弃本次复制并重试。
func (r *RingReader) Load() (domain.TopOfBook, bool) {
	if r.capacity == 0 {
		// 写者还没初始化头部，惰性重读
		r.capacity = int64(binary.LittleEndian.Uint64(r.data[offCapacity:]))
		if r.capacity == 0 {
			return domain.TopOfBook{}, false
		}
	}
	if int64(len(r.data)) < shmHeaderSize+r.capacity*shmFrameSize {
		return domain.TopOfBook{}, false
	}

	for attempt := 0; attempt < 16; attempt++ {
		w1 := r.widx.Load()
		if w1 <= 0 {
			return domain.TopOfBook{}, false
		}

		slot := (w1 - 1) % r.capacity
		off := shmHeaderSize + slot*shmFrameSize

		var frame [shmFrameSize]byte
		copy(frame[:], r.data[off:off+shmFrameSize])

		w2 := r.widx.Load()
		if w2-w1 >= r.capacity-1 {
			continue // 写者套圈，帧可能撕裂
		}

		tob := decodeFrame(frame[:])
		tob.Seq = uint64(w1)
		return tob, true
	}
	return domain.TopOfBook{}, false
}

// Written 返回写者已发布的总帧数
func (r *RingReader) Written() int64 {
	return r.widx.Load()
}

// Close 解除映射并关闭文件
func (r *RingReader) Close() error {
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			return err
		}
		r.data = nil
		r.widx = nil
	}
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}
