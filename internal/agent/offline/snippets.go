package offline

import "strings"

// Snippet is a self-contained engine script known to run in an empty level.
type Snippet struct {
	Key      string
	Title    string
	Keywords []string
	Code     string
}

// Library is checked in order; the first snippet whose keyword appears in
// the request wins.
var Library = []Snippet{
	{
		Key:      "sky_and_atmosphere",
		Title:    "Sky & atmosphere",
		Keywords: []string{"sky", "atmosphere", "sun", "cloud"},
		Code: `import unreal

def setup_sky():
    editor = unreal.EditorLevelLibrary
    sky = editor.spawn_actor_from_class(unreal.SkyAtmosphere, unreal.Vector(0, 0, 0))
    sky.set_actor_label('Sky')
    sun = editor.spawn_actor_from_class(unreal.DirectionalLight, unreal.Vector(0, 0, 0))
    sun.set_actor_rotation(unreal.Rotator(-50, 0, 0), False)
    light_comp = sun.get_component_by_class(unreal.DirectionalLightComponent)
    light_comp.set_editor_property('intensity', 10.0)
    light_comp.set_editor_property('light_color', unreal.Color(255, 240, 220, 255))
    sun.set_actor_label('Sun')
    sky_light = editor.spawn_actor_from_class(unreal.SkyLight, unreal.Vector(0, 0, 0))
    sky_light.get_component_by_class(unreal.SkyLightComponent).set_editor_property('intensity', 2.0)
    sky_light.set_actor_label('SkyLight')
    clouds = editor.spawn_actor_from_class(unreal.VolumetricCloud, unreal.Vector(0, 0, 0))
    clouds.set_actor_label('Clouds')
    unreal.log('Sky and atmosphere created')

setup_sky()
`,
	},
	{
		Key:      "ground_plane",
		Title:    "Ground plane",
		Keywords: []string{"ground", "terrain", "landscape", "floor"},
		Code: `import unreal

def create_ground(scale_x=200, scale_y=200):
    editor = unreal.EditorLevelLibrary
    ground = editor.spawn_actor_from_class(unreal.StaticMeshActor, unreal.Vector(0, 0, 0))
    mesh_comp = ground.get_component_by_class(unreal.StaticMeshComponent)
    mesh_comp.set_static_mesh(unreal.EditorAssetLibrary.load_asset('/Engine/BasicShapes/Plane'))
    ground.set_actor_scale3d(unreal.Vector(scale_x, scale_y, 1))
    ground.set_actor_label('Ground')
    unreal.log('Ground plane created')

create_ground(200, 200)
`,
	},
	{
		Key:      "fog",
		Title:    "Fog",
		Keywords: []string{"fog", "mist", "haze"},
		Code: `import unreal

def add_fog(density=0.02):
    editor = unreal.EditorLevelLibrary
    fog = editor.spawn_actor_from_class(unreal.ExponentialHeightFog, unreal.Vector(0, 0, 0))
    fog.get_component_by_class(unreal.ExponentialHeightFogComponent).set_editor_property('fog_density', density)
    fog.set_actor_label('Fog')
    unreal.log(f'Fog added with density {density}')

add_fog(0.02)
`,
	},
	{
		Key:      "castle_tower",
		Title:    "Towers",
		Keywords: []string{"castle", "tower", "fort"},
		Code: `import unreal

def build_tower(x, y, height=10, radius=3):
    editor = unreal.EditorLevelLibrary
    tower = editor.spawn_actor_from_class(unreal.StaticMeshActor, unreal.Vector(x, y, height * 50))
    tower.get_component_by_class(unreal.StaticMeshComponent).set_static_mesh(
        unreal.EditorAssetLibrary.load_asset('/Engine/BasicShapes/Cylinder'))
    tower.set_actor_scale3d(unreal.Vector(radius, radius, height))
    tower.set_actor_label('Tower')
    roof = editor.spawn_actor_from_class(unreal.StaticMeshActor, unreal.Vector(x, y, height * 100 + 50))
    roof.get_component_by_class(unreal.StaticMeshComponent).set_static_mesh(
        unreal.EditorAssetLibrary.load_asset('/Engine/BasicShapes/Cone'))
    roof.set_actor_scale3d(unreal.Vector(radius + 1, radius + 1, 3))
    roof.set_actor_label('Tower_Roof')

for x, y in [(-600, -600), (600, -600), (600, 600), (-600, 600)]:
    build_tower(x, y)
unreal.log('Towers built')
`,
	},
	{
		Key:      "simple_house",
		Title:    "House structure",
		Keywords: []string{"house", "building", "structure", "village", "town", "city", "hut", "cabin"},
		Code: `import unreal

def build_simple_house(x=0, y=0):
    editor = unreal.EditorLevelLibrary
    floor = editor.spawn_actor_from_class(unreal.StaticMeshActor, unreal.Vector(x, y, 10))
    floor.get_component_by_class(unreal.StaticMeshComponent).set_static_mesh(
        unreal.EditorAssetLibrary.load_asset('/Engine/BasicShapes/Cube'))
    floor.set_actor_scale3d(unreal.Vector(3, 2, 0.1))
    floor.set_actor_label('House_Floor')
    walls = [
        (x, y - 95, 100, 3, 0.1, 2, 'Wall_Front'),
        (x, y + 95, 100, 3, 0.1, 2, 'Wall_Back'),
        (x - 145, y, 100, 0.1, 2, 2, 'Wall_Left'),
        (x + 145, y, 100, 0.1, 2, 2, 'Wall_Right'),
    ]
    for wx, wy, wz, sx, sy, sz, name in walls:
        wall = editor.spawn_actor_from_class(unreal.StaticMeshActor, unreal.Vector(wx, wy, wz))
        wall.get_component_by_class(unreal.StaticMeshComponent).set_static_mesh(
            unreal.EditorAssetLibrary.load_asset('/Engine/BasicShapes/Cube'))
        wall.set_actor_scale3d(unreal.Vector(sx, sy, sz))
        wall.set_actor_label(name)
    roof = editor.spawn_actor_from_class(unreal.StaticMeshActor, unreal.Vector(x, y, 250))
    roof.get_component_by_class(unreal.StaticMeshComponent).set_static_mesh(
        unreal.EditorAssetLibrary.load_asset('/Engine/BasicShapes/Cone'))
    roof.set_actor_scale3d(unreal.Vector(3.5, 2.5, 1.5))
    roof.set_actor_label('House_Roof')
    unreal.log(f'House built at ({x}, {y})')

build_simple_house()
`,
	},
	{
		Key:      "trees",
		Title:    "Trees & vegetation",
		Keywords: []string{"tree", "forest", "vegetation", "nature", "garden", "park"},
		Code: `import unreal

def spawn_tree(x, y, trunk_height=3, canopy_size=2):
    editor = unreal.EditorLevelLibrary
    trunk = editor.spawn_actor_from_class(unreal.StaticMeshActor, unreal.Vector(x, y, trunk_height * 50))
    trunk.get_component_by_class(unreal.StaticMeshComponent).set_static_mesh(
        unreal.EditorAssetLibrary.load_asset('/Engine/BasicShapes/Cylinder'))
    trunk.set_actor_scale3d(unreal.Vector(0.3, 0.3, trunk_height))
    trunk.set_actor_label('Tree_Trunk')
    canopy = editor.spawn_actor_from_class(unreal.StaticMeshActor, unreal.Vector(x, y, trunk_height * 100 + canopy_size * 30))
    canopy.get_component_by_class(unreal.StaticMeshComponent).set_static_mesh(
        unreal.EditorAssetLibrary.load_asset('/Engine/BasicShapes/Sphere'))
    canopy.set_actor_scale3d(unreal.Vector(canopy_size, canopy_size, canopy_size * 0.8))
    canopy.set_actor_label('Tree_Canopy')

for x, y in [(-800, -600), (-900, 200), (-600, 800), (100, 900), (800, 700), (900, -100), (700, -800), (-200, -900)]:
    spawn_tree(x, y)
unreal.log('Trees created')
`,
	},
	{
		Key:      "point_lights",
		Title:    "Lighting",
		Keywords: []string{"light", "lamp", "torch", "glow"},
		Code: `import unreal

editor = unreal.EditorLevelLibrary

def add_light(loc, r, g, b, intensity=5000, label='Light'):
    light = editor.spawn_actor_from_class(unreal.PointLight, loc)
    comp = light.get_component_by_class(unreal.PointLightComponent)
    comp.set_editor_property('intensity', intensity)
    comp.set_editor_property('light_color', unreal.Color(r, g, b, 255))
    comp.set_editor_property('attenuation_radius', 1000)
    light.set_actor_label(label)

add_light(unreal.Vector(0, 0, 200), 255, 200, 150, 8000, 'Light_Interior')
add_light(unreal.Vector(0, -500, 200), 200, 230, 255, 3000, 'Light_Front')
add_light(unreal.Vector(0, 500, 200), 180, 200, 255, 2000, 'Light_Back')
unreal.log('Lighting complete')
`,
	},
	{
		Key:      "post_process",
		Title:    "Post-processing",
		Keywords: []string{"post", "polish", "review", "effect", "bloom", "exposure"},
		Code: `import unreal

def add_post_process(bloom=1.0, exposure=0.0):
    editor = unreal.EditorLevelLibrary
    pp = editor.spawn_actor_from_class(unreal.PostProcessVolume, unreal.Vector(0, 0, 0))
    pp.set_editor_property('unbound', True)
    settings = pp.get_editor_property('settings')
    settings.set_editor_property('override_bloom_intensity', True)
    settings.set_editor_property('bloom_intensity', bloom)
    settings.set_editor_property('override_auto_exposure_bias', True)
    settings.set_editor_property('auto_exposure_bias', exposure)
    pp.set_actor_label('PostProcess')
    unreal.log('Post process added')

add_post_process(1.0, 0.0)
`,
	},
}

// genericCube is used when no snippet matches.
const genericCube = `import unreal

editor = unreal.EditorLevelLibrary
cube = editor.spawn_actor_from_class(unreal.StaticMeshActor, unreal.Vector(0, 0, 100))
cube.get_component_by_class(unreal.StaticMeshComponent).set_static_mesh(
    unreal.EditorAssetLibrary.load_asset('/Engine/BasicShapes/Cube'))
cube.set_actor_label('Placeholder')
unreal.log('Placeholder actor spawned')
`

// Match returns the first snippet whose keyword appears in text.
func Match(text string) (Snippet, bool) {
	lower := strings.ToLower(text)
	for _, s := range Library {
		for _, kw := range s.Keywords {
			if strings.Contains(lower, kw) {
				return s, true
			}
		}
	}
	return Snippet{}, false
}

// CodeFor returns the matching snippet's code, or a placeholder script.
func CodeFor(text string) string {
	if s, ok := Match(text); ok {
		return s.Code
	}
	return genericCube
}
