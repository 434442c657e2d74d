// sniff.go
//
// Content-based file type detection. Archived entries store no extension;
// the decoded payload is matched against a priority-ordered table of
// fixed-offset magic bytes and, for text payloads, substring markers for the
// engine's XML-ish asset files. The first match wins; anything unrecognized
// is "dat".

package npk

import (
	"bytes"
	"unicode/utf8"
)

// textScanCeiling caps substring scanning over text payloads; anything
// larger is left as a generic extension rather than scanned end to end.
const textScanCeiling = 100_000_000

// magicRule matches a fixed byte pattern at a fixed offset.
type magicRule struct {
	off     int
	pattern []byte
	ext     string
}

// binaryMagics is checked in order; earlier entries shadow later ones. The
// table stops at DDS because the TGA heuristics outrank everything after it.
var binaryMagics = []magicRule{
	{0, []byte("PVR"), "pvr"},
	{0, []byte{0x34, 0x80, 0xC8, 0xBB}, "mesh"},
	{0, []byte("RAWANIMA"), "rawanimation"},
	{0, []byte("NEOXBIN1"), "uiprefab"},
	{0, []byte("SKELETON"), "skeleton"},
	{0, []byte{0x01, 0x00, 0x05, 0x00, 0x00, 0x00}, "foliage"},
	{0, []byte("NEOXMESH"), "uimesh"},
	{0, []byte("NVidia(r) GameWorks Blast(tm) v.1"), "blast"},
	{0, []byte{0xE3, 0x00, 0x00, 0x00}, "pyc"},
	{0, []byte{0x63, 0x00, 0x00, 0x00}, "pyc"},
	{0, []byte{0x4C, 0x0F, 0x00, 0x00}, "pyc"},
	{0, []byte{0x27, 0xE3, 0x00, 0x01}, "pyc"},
	{0, []byte("CocosStudio-UI"), "coc"},
	{0, []byte{0x13, 0xAB, 0xA1, 0x5C}, "astc"},
	{0, []byte("hit"), "hit"},
	{0, []byte("PKM"), "pkm"},
	{0, []byte("DDS"), "dds"},
}

// lateBinaryMagics resumes after the TGA and C1 59 41 0D checks.
var lateBinaryMagics = []magicRule{
	{0, []byte("CompBlks"), "cbk"},
	{0, []byte("BM"), "bmp"},
	{1, []byte("KTX"), "ktx"},
	{0, []byte("blastmesh"), "blastmesh"},
	{0, []byte("clothasset"), "clothasset"},
	{1, []byte("PNG"), "png"},
	{0, []byte("FSB5"), "fsb"},
	{0, []byte("VANT"), "vant"},
	{0, []byte("MDMP"), "mdmp"},
	{0, []byte("RGIS"), "gis"},
	{0, []byte("NTRK"), "trk"},
	{0, []byte("OggS"), "ogg"},
	{0, []byte{0xFF, 0xD8, 0xFF, 0xE1}, "jpg"},
	{0, []byte("BKHD"), "bnk"},
	{0, []byte("TZif"), "tzif"},
	{6, []byte("JFIF"), "jfif"},
	{4, []byte("ftyp"), "mp4"},
	{0x3B, []byte{0xC5, 0x00, 0x00, 0x80, 0x3F}, "slpb"},
}

// substringRule maps a marker anywhere in a text payload to an extension.
type substringRule struct {
	marker []byte
	ext    string
}

// textMarkers is checked in order against payloads that decoded as text.
var textMarkers = []substringRule{
	{[]byte("<Material"), "mtl"},
	{[]byte("<MaterialGroup"), "mtg"},
	{[]byte("<MetaInfo"), "pvr.meta"},
	{[]byte("<Section"), "sec"},
	{[]byte("<SubMesh"), "gim"},
	{[]byte("<FxGroup"), "sfx"},
	{[]byte("<Track"), "trackgroup"},
	{[]byte("<Instances"), "decal"},
	{[]byte("<Physics"), "col"},
	{[]byte("<LODPolicy"), "lod"},
	{[]byte("<LODProfile"), "lod"},
	{[]byte(`Type="Animation"`), "animation"},
	{[]byte("DisableBakeLightProbe="), "prefab"},
	{[]byte("<Scene"), "scn"},
	{[]byte(`"ParticleSystemTemplate"`), "pse"},
	{[]byte("<MainBody"), "nxcompute"},
	{[]byte("<MapSkeletonToMeshBone"), "skeletonextra"},
	{[]byte("<ShadingModel"), "nxshader"},
	{[]byte("<BlastDynamic"), "blt"},
	{[]byte(`"ParticleAudio"`), "psemusic"},
	{[]byte("<AnimationConfig"), "animconfig"},
	{[]byte("<AnimationGraph"), "animgraph"},
	{[]byte(`<Head Type="Timeline"`), "timeline"},
	{[]byte("<Chain"), "physicalbone"},
	{[]byte("<PostProcess"), "postprocess"},
	{[]byte(`"mesh_import_options":{`), "nxmeta"},
	{[]byte("<SceneConfig"), "scnex"},
	{[]byte("<LocalPoints"), "localweather"},
	{[]byte(`GeoBatchHint="0"`), "gimext"},
	{[]byte(`"AssetType":"HapticsData"`), "haptic"},
	{[]byte("<LocalFogParams"), "localfogparams"},
	{[]byte("<Audios"), "prefabaudio"},
	{[]byte("<AudioSource"), "prefabaudio"},
	{[]byte(`"ReferenceSkeleton`), "featureschema"},
	{[]byte("<Relationships"), "xml.rels"},
	{[]byte("<Waterfall"), "waterfall"},
	{[]byte(`"ReferenceSkeletonPath"`), "mirrortable"},
	{[]byte("<ClothAsset"), "clt"},
	{[]byte("<plist"), "plist"},
	{[]byte("<ShaderCompositor"), "render"},
	{[]byte("<ShaderFeature"), "render"},
	{[]byte("<ShaderIndexes"), "render"},
	{[]byte("<RenderTrigger"), "render"},
	{[]byte("<SkeletonRig"), "skeletonrig"},
	{[]byte("<ShaderCache"), "cache"},
	{[]byte("<AllCaches"), "info"},
	{[]byte("<AllPreloadCaches"), "list"},
	{[]byte("<Remove_Files"), "map"},
	{[]byte(`<HLSL File="`), "md5"},
	{[]byte("<EnvParticle"), "envp"},
	{[]byte("<TextureGroup"), "txg"},
	{[]byte("?xml"), "xml"},
}

// isBinaryData reports whether the payload looks like binary rather than
// text: NUL bytes near the front, or a leading sample that is not UTF-8.
func isBinaryData(data []byte) bool {
	head := data
	if len(head) > 4000 {
		head = head[:4000]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	sample := data
	if len(sample) > 2048 {
		sample = sample[:2048]
	}
	return !utf8.Valid(sample)
}

func matchesAt(data []byte, off int, pattern []byte) bool {
	if off+len(pattern) > len(data) {
		return false
	}
	return bytes.Equal(data[off:off+len(pattern)], pattern)
}

func sniffBinary(data []byte) string {
	// RIFF containers and the C1 59 41 0D family need a secondary marker.
	if matchesAt(data, 0, []byte("RIFF")) {
		if bytes.Contains(data, []byte("FEV")) {
			return "fev"
		}
		if bytes.Contains(data, []byte("WAVE")) {
			return "wem"
		}
	}
	for _, r := range binaryMagics {
		if matchesAt(data, r.off, r.pattern) {
			return r.ext
		}
	}

	// Targa has no leading magic; the footer tag or a typeless header
	// prefix has to do. This outranks every magic past DDS.
	if len(data) >= 18 && bytes.Equal(data[len(data)-18:len(data)-2], []byte("TRUEVISION-XFILE")) {
		return "tga"
	}
	if matchesAt(data, 0, []byte{0x00, 0x00, 0x02}) || matchesAt(data, 0, []byte{0x0D, 0x00, 0x02}) {
		return "tga"
	}

	if matchesAt(data, 0, []byte("NFXO")) {
		return "nfx"
	}
	if matchesAt(data, 0, []byte{0xC1, 0x59, 0x41, 0x0D}) {
		switch {
		case bytes.Contains(data, []byte("Material")):
			return "mtg"
		case bytes.Contains(data, []byte("GisFiles")):
			return "gim"
		case bytes.Contains(data, []byte("Anim")):
			return "ags"
		}
		return "unknown1"
	}

	for _, r := range lateBinaryMagics {
		if matchesAt(data, r.off, r.pattern) {
			return r.ext
		}
	}

	if bytes.Contains(data, []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x55, 0x55}) {
		return "animation"
	}
	return ""
}

func sniffText(data []byte) string {
	if matchesAt(data, 0, []byte("from typing import ")) {
		return "pyi"
	}
	if matchesAt(data, 0, []byte("-----BEGIN PUBLIC KEY-----")) {
		return "pem"
	}
	if len(data) >= textScanCeiling {
		return ""
	}
	for _, r := range textMarkers {
		if bytes.Contains(data, r.marker) {
			return r.ext
		}
	}
	if bytes.Contains(data, []byte("format: ")) && bytes.Contains(data, []byte("filter: ")) {
		return "atlas"
	}
	if bytes.Contains(data, []byte("char")) &&
		bytes.Contains(data, []byte("width=")) && bytes.Contains(data, []byte("height=")) {
		return "fnt"
	}
	return ""
}

// sniffExtension assigns an extension to a freshly decoded payload. Called
// once per entry; cache hits reuse the stored result.
func sniffExtension(data []byte, flags EntryFlags) string {
	if len(data) == 0 {
		return "empty"
	}

	var ext string
	if flags&FlagText != 0 {
		ext = sniffText(data)
	} else {
		ext = sniffBinary(data)
	}
	if ext == "" {
		return "dat"
	}
	return ext
}
