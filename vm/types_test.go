package vm

import "testing"

func TestTypeLayoutPrimitivesOnly(t *testing.T) {
	types := NewTypeTable()

	def := NewTypeDefinition("vec3")
	def.AddField(types, Field{Name: "x", Type: PrimitiveType(TagF32)})
	def.AddField(types, Field{Name: "y", Type: PrimitiveType(TagF32)})
	def.AddField(types, Field{Name: "z", Type: PrimitiveType(TagF32)})

	assert(t, def.TotalSize() == 12, "expected total size 12, got %d", def.TotalSize())
	assert(t, def.FieldOffset(0) == 0, "expected offset 0 at field 0, got %d", def.FieldOffset(0))
	assert(t, def.FieldOffset(1) == 4, "expected offset 4 at field 1, got %d", def.FieldOffset(1))
	assert(t, def.FieldOffset(2) == 8, "expected offset 8 at field 2, got %d", def.FieldOffset(2))
}

// TestRecursiveFlattening is SPEC_FULL.md section 8's property #3: given
// Rgb={red,green,blue:U8} and Pixel={color:LocalData(Rgb), alpha:U8},
// Pixel.num_flattened_fields == 4, query(["color","green"]) == 1,
// query(["alpha"]) == 3, total_size == 4.
func TestRecursiveFlattening(t *testing.T) {
	types := NewTypeTable()

	rgb := NewTypeDefinition("rgb")
	rgb.AddField(types, Field{Name: "red", Type: PrimitiveType(TagU8)})
	rgb.AddField(types, Field{Name: "green", Type: PrimitiveType(TagU8)})
	rgb.AddField(types, Field{Name: "blue", Type: PrimitiveType(TagU8)})
	rgbIdx, err := types.Insert(rgb)
	assert(t, err == nil, "Insert rgb failed: %s", err)

	pixel := NewTypeDefinition("pixel")
	pixel.AddField(types, Field{Name: "color", Type: LocalDataType(rgbIdx)})
	pixel.AddField(types, Field{Name: "alpha", Type: PrimitiveType(TagU8)})

	assert(t, pixel.NumFlattenedFields() == 4, "expected 4 flattened fields, got %d", pixel.NumFlattenedFields())
	assert(t, pixel.TotalSize() == 4, "expected total size 4, got %d", pixel.TotalSize())

	greenIdx, ok := pixel.Query([]string{"color", "green"})
	assert(t, ok, "query color.green should resolve")
	assert(t, greenIdx == 1, "expected color.green at flattened index 1, got %d", greenIdx)

	alphaIdx, ok := pixel.Query([]string{"alpha"})
	assert(t, ok, "query alpha should resolve")
	assert(t, alphaIdx == 3, "expected alpha at flattened index 3, got %d", alphaIdx)
}

func TestTypeTableDuplicateNameFaults(t *testing.T) {
	types := NewTypeTable()
	_, err := types.Insert(NewTypeDefinition("dup"))
	assert(t, err == nil, "first insert should succeed: %s", err)
	_, err = types.Insert(NewTypeDefinition("dup"))
	assert(t, err != nil, "second insert with the same name should fault")
}
