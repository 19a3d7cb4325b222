package tsgen

import "strings"

// runtimeSource is the little-endian cursor pair every generated module embeds.
// Bool and optional tags read leniently: any nonzero byte is true.
const runtimeSource = `
class Writer {
  private buf = new Uint8Array(64);
  private dv = new DataView(this.buf.buffer);
  private off = 0;

  private ensure(n: number): void {
    if (this.off + n <= this.buf.length) return;
    let size = this.buf.length * 2;
    while (size < this.off + n) size *= 2;
    const next = new Uint8Array(size);
    next.set(this.buf);
    this.buf = next;
    this.dv = new DataView(next.buffer);
  }

  i32(v: number): void { this.ensure(4); this.dv.setInt32(this.off, v | 0, true); this.off += 4; }
  u32(v: number): void { this.ensure(4); this.dv.setUint32(this.off, v >>> 0, true); this.off += 4; }
  i64(v: bigint): void { this.ensure(8); this.dv.setBigInt64(this.off, BigInt.asIntN(64, BigInt(v)), true); this.off += 8; }
  u64(v: bigint): void { this.ensure(8); this.dv.setBigUint64(this.off, BigInt.asUintN(64, BigInt(v)), true); this.off += 8; }
  bool(v: boolean): void { this.ensure(1); this.dv.setUint8(this.off, v ? 1 : 0); this.off += 1; }
  f32(v: number): void { this.ensure(4); this.dv.setFloat32(this.off, v, true); this.off += 4; }
  f64(v: number): void { this.ensure(8); this.dv.setFloat64(this.off, v, true); this.off += 8; }

  str(v: string): void {
    const b = new TextEncoder().encode(v);
    if (b.length > 0xffff) throw new RangeError("string longer than 65535 bytes");
    this.ensure(2 + b.length);
    this.dv.setUint16(this.off, b.length, true);
    this.buf.set(b, this.off + 2);
    this.off += 2 + b.length;
  }

  opt<T>(v: T | null | undefined, f: (x: T) => void): void {
    if (v === undefined || v === null) { this.bool(false); return; }
    this.bool(true);
    f(v);
  }

  list<T>(v: readonly T[] | undefined, f: (x: T) => void): void {
    const items = v ?? [];
    this.u32(items.length);
    for (const x of items) f(x);
  }

  bytes(): Uint8Array { return this.buf.slice(0, this.off); }
}

class Reader {
  private readonly dv: DataView;
  private off = 0;

  constructor(private readonly buf: Uint8Array, private readonly maxString = 0, private readonly maxList = 0) {
    this.dv = new DataView(buf.buffer, buf.byteOffset, buf.byteLength);
  }

  private need(n: number): void {
    if (this.off + n > this.buf.length) throw new RangeError("payload shorter than required at offset " + this.off);
  }

  i32(): number { this.need(4); const v = this.dv.getInt32(this.off, true); this.off += 4; return v; }
  u32(): number { this.need(4); const v = this.dv.getUint32(this.off, true); this.off += 4; return v; }
  i64(): bigint { this.need(8); const v = this.dv.getBigInt64(this.off, true); this.off += 8; return v; }
  u64(): bigint { this.need(8); const v = this.dv.getBigUint64(this.off, true); this.off += 8; return v; }
  bool(): boolean { this.need(1); const v = this.dv.getUint8(this.off) !== 0; this.off += 1; return v; }
  f32(): number { this.need(4); const v = this.dv.getFloat32(this.off, true); this.off += 4; return v; }
  f64(): number { this.need(8); const v = this.dv.getFloat64(this.off, true); this.off += 8; return v; }

  str(): string {
    this.need(2);
    const n = this.dv.getUint16(this.off, true);
    this.need(2 + n);
    const b = this.buf.subarray(this.off + 2, this.off + 2 + n);
    this.off += 2 + n;
    const dec = new TextDecoder("utf-8", { fatal: true });
    const s = dec.decode(b);
    if (this.maxString <= 0 || n <= this.maxString) return s;
    let k = this.maxString;
    while (k > 0 && (b[k] & 0xc0) === 0x80) k--;
    return dec.decode(b.subarray(0, k));
  }

  opt<T>(f: () => T): T | null {
    return this.bool() ? f() : null;
  }

  list<T>(f: () => T): T[] {
    const n = this.u32();
    const keep = this.maxList > 0 && n > this.maxList ? this.maxList : n;
    const out: T[] = [];
    for (let i = 0; i < n; i++) {
      const x = f();
      if (i < keep) out.push(x);
    }
    return out;
  }
}
`

func (g *generator) runtime() {
	for _, line := range strings.Split(strings.TrimPrefix(runtimeSource, "\n"), "\n") {
		g.buf.WriteString(line)
		g.buf.WriteByte('\n')
	}
}
