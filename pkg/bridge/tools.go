package bridge

import (
	"cadbridge/pkg/dispatcher"
	"cadbridge/pkg/protocol"

	"github.com/mark3labs/mcp-go/mcp"
)

// Tools that exist whether or not the server is reachable.
const (
	ToolCheckConnection = "check_connection"
	ToolTestEcho        = "test_echo"
)

// liveToolNames lists the tools advertised only while the server answers.
func liveToolNames() []string {
	return []string{
		protocol.ToolPartOperations,
		protocol.ToolPartDesignOperations,
		protocol.ToolViewControl,
		protocol.ToolExecuteCode,
		protocol.ToolContinueSelection,
		protocol.ToolAgent,
	}
}

func checkConnectionTool() mcp.Tool {
	return mcp.NewTool(ToolCheckConnection,
		mcp.WithDescription("Check whether the CAD application is running with the cadbridge server"),
	)
}

func testEchoTool() mcp.Tool {
	return mcp.NewTool(ToolTestEcho,
		mcp.WithDescription("Echo a message back through the bridge"),
		mcp.WithString("message", mcp.Required(), mcp.Description("Message to echo back")),
	)
}

// continuation parameters shared by every tool that can park on a selection.
func continuationOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithBoolean(protocol.ArgContinueFromInteractive,
			mcp.Description("Set when resuming an interactive selection")),
		mcp.WithString("operation_id",
			mcp.Description("Operation id from the interactive selection prompt")),
		mcp.WithString(protocol.ArgToolName,
			mcp.Description("Tool name from the interactive selection prompt")),
		mcp.WithObject(protocol.ArgOriginalArgs,
			mcp.Description("Original arguments from the interactive selection prompt")),
	}
}

func partOperationsTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("MODIFIES the CAD document: create primitives, run boolean operations and transform objects."),
		mcp.WithString(protocol.ArgOperation, mcp.Required(),
			mcp.Description("Part operation to perform"),
			mcp.Enum(dispatcher.Operations(protocol.ToolPartOperations)...)),
		mcp.WithNumber("length", mcp.Description("Box length in mm")),
		mcp.WithNumber("width", mcp.Description("Box width in mm")),
		mcp.WithNumber("height", mcp.Description("Height in mm")),
		mcp.WithNumber("radius", mcp.Description("Radius in mm")),
		mcp.WithNumber("radius1", mcp.Description("Cone base or torus major radius in mm")),
		mcp.WithNumber("radius2", mcp.Description("Cone top or torus minor radius in mm")),
		mcp.WithNumber("x", mcp.Description("X position in mm")),
		mcp.WithNumber("y", mcp.Description("Y position in mm")),
		mcp.WithNumber("z", mcp.Description("Z position in mm")),
		mcp.WithString("name", mcp.Description("Name for the new object")),
		mcp.WithString("object_name", mcp.Description("Object to transform")),
		mcp.WithArray("objects", mcp.Description("Objects for fuse or common"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("base", mcp.Description("Base object for cut")),
		mcp.WithArray("tools", mcp.Description("Tool objects for cut"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("axis", mcp.Description("Rotation axis: x, y or z")),
		mcp.WithNumber("angle", mcp.Description("Rotation angle in degrees")),
		mcp.WithNumber("scale_factor", mcp.Description("Uniform scale factor")),
		mcp.WithNumber("count", mcp.Description("Array element count")),
		mcp.WithNumber("spacing_x", mcp.Description("Array spacing along X in mm")),
		mcp.WithNumber("spacing_y", mcp.Description("Array spacing along Y in mm")),
		mcp.WithNumber("spacing_z", mcp.Description("Array spacing along Z in mm")),
	}
	return mcp.NewTool(protocol.ToolPartOperations, opts...)
}

func partDesignOperationsTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("MODIFIES the CAD document: parametric features. Fillet, chamfer and hole " +
			"ask the user to select edges or faces in the viewport unless they are given explicitly."),
		mcp.WithString(protocol.ArgOperation, mcp.Required(),
			mcp.Description("PartDesign operation to perform"),
			mcp.Enum(dispatcher.Operations(protocol.ToolPartDesignOperations)...)),
		mcp.WithString("object_name", mcp.Description("Object the feature applies to")),
		mcp.WithString("sketch_name", mcp.Description("Sketch to pad or pocket")),
		mcp.WithString("plane", mcp.Description("Sketch plane: XY, XZ or YZ")),
		mcp.WithNumber("length", mcp.Description("Pad or pocket length in mm")),
		mcp.WithNumber("width", mcp.Description("Sketch rectangle width in mm")),
		mcp.WithNumber("height", mcp.Description("Sketch rectangle height in mm")),
		mcp.WithNumber("radius", mcp.Description("Fillet or sketch circle radius in mm")),
		mcp.WithNumber("distance", mcp.Description("Chamfer distance in mm")),
		mcp.WithNumber("diameter", mcp.Description("Hole diameter in mm")),
		mcp.WithNumber("depth", mcp.Description("Hole depth in mm")),
		mcp.WithArray("edges", mcp.Description("Edge numbers; omit to select interactively"), mcp.Items(map[string]any{"type": "integer"})),
		mcp.WithArray("faces", mcp.Description("Face numbers; omit to select interactively"), mcp.Items(map[string]any{"type": "integer"})),
		mcp.WithString("name", mcp.Description("Name for the new feature")),
	}
	return mcp.NewTool(protocol.ToolPartDesignOperations, append(opts, continuationOptions()...)...)
}

func viewControlTool() mcp.Tool {
	return mcp.NewTool(protocol.ToolViewControl,
		mcp.WithDescription("View, document and selection control: screenshots, camera, documents, visibility, undo and redo."),
		mcp.WithString(protocol.ArgOperation, mcp.Required(),
			mcp.Description("View operation to perform"),
			mcp.Enum(dispatcher.Operations(protocol.ToolViewControl)...)),
		mcp.WithString("view_type", mcp.Description("Camera preset: isometric, front, top, right, ...")),
		mcp.WithNumber("factor", mcp.Description("Zoom factor")),
		mcp.WithNumber("width", mcp.Description("Screenshot width in pixels")),
		mcp.WithNumber("height", mcp.Description("Screenshot height in pixels")),
		mcp.WithString("object_name", mcp.Description("Object to select, hide, show or delete")),
		mcp.WithArray("sub_elements", mcp.Description("Sub-elements to select, e.g. Edge1"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("document_name", mcp.Description("Name for a new document")),
		mcp.WithString("filename", mcp.Description("Path to save the document to")),
		mcp.WithString("workbench_name", mcp.Description("Workbench to activate")),
	)
}

func executeCodeTool() mcp.Tool {
	return mcp.NewTool(protocol.ToolExecuteCode,
		mcp.WithDescription("Run a Go snippet in the sandboxed interpreter when the server enables it. "+
			"Only allow-listed packages and the read-only cad package are importable."),
		mcp.WithString("code", mcp.Required(), mcp.Description("Go source to run")),
	)
}

func continueSelectionTool() mcp.Tool {
	return mcp.NewTool(protocol.ToolContinueSelection,
		mcp.WithDescription("Finish an operation that is waiting for a viewport selection, after the user has selected"),
		mcp.WithString("operation_id", mcp.Required(),
			mcp.Description("The operation id from the interactive selection prompt")),
	)
}

func agentTool() mcp.Tool {
	return mcp.NewTool(protocol.ToolAgent,
		mcp.WithDescription("Hand a natural-language modeling request to the reasoning agent. "+
			"It answers, runs a plan, or reports what it needs from you."),
		mcp.WithString("request", mcp.Required(), mcp.Description("What you want done")),
	)
}
