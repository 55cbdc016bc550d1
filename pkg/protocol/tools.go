package protocol

// Flat tool names understood by the dispatcher.
const (
	ToolCreateBox      = "create_box"
	ToolCreateCylinder = "create_cylinder"
	ToolCreateSphere   = "create_sphere"
	ToolCreateCone     = "create_cone"
	ToolCreateTorus    = "create_torus"
	ToolCreateWedge    = "create_wedge"

	ToolFuse   = "fuse_objects"
	ToolCut    = "cut_objects"
	ToolCommon = "common_objects"

	ToolMove   = "move_object"
	ToolRotate = "rotate_object"
	ToolScale  = "scale_object"
	ToolCopy   = "copy_object"
	ToolArray  = "array_object"

	ToolCreateSketch = "create_sketch"
	ToolPad          = "pad_sketch"
	ToolPocket       = "pocket_sketch"
	ToolFillet       = "fillet_edges"
	ToolChamfer      = "chamfer_edges"
	ToolHole         = "hole_feature"

	ToolMeasureDistance = "measure_distance"
	ToolGetVolume       = "get_volume"
	ToolGetBoundingBox  = "get_bounding_box"
	ToolMassProperties  = "get_mass_properties"
	ToolListObjects     = "list_all_objects"

	ToolNewDocument       = "new_document"
	ToolSaveDocument      = "save_document"
	ToolActivateWorkbench = "activate_workbench"
	ToolSetView           = "set_view"
	ToolFitAll            = "fit_all"
	ToolZoom              = "zoom"
	ToolScreenshot        = "get_screenshot"

	ToolSelectObject   = "select_object"
	ToolClearSelection = "clear_selection"
	ToolGetSelection   = "get_selection"
	ToolHideObject     = "hide_object"
	ToolShowObject     = "show_object"
	ToolDeleteObject   = "delete_object"
	ToolUndo           = "undo"
	ToolRedo           = "redo"

	ToolContinueSelection = "continue_selection"
	ToolPendingSelections = "list_pending_selections"
	ToolExecuteCode       = "execute_arbitrary_code"
	ToolAgent             = "ai_agent"

	ToolAnalyzeState     = "analyze_state"
	ToolModifyParameters = "modify_parameters"
	ToolCreateObject     = "create_object"
	ToolVerifyResult     = "verify_result"

	ToolGetPatterns    = "get_patterns"
	ToolSuggestNext    = "suggest_next_operation"
	ToolSetPreference  = "set_preference"
	ToolGetPreferences = "get_preferences"
	ToolServerStatus   = "server_status"
)

// Grouped "smart" tools that route on the operation argument.
const (
	ToolPartOperations       = "part_operations"
	ToolPartDesignOperations = "partdesign_operations"
	ToolViewControl          = "view_control"
)
