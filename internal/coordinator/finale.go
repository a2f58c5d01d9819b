package coordinator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/basket/scenecrew/internal/agent"
	"github.com/basket/scenecrew/internal/persistence"
	"github.com/basket/scenecrew/internal/shared"
)

// passingScore is the lowest visual score that counts as approved.
const passingScore = 8

const (
	MsgTrailerPlaced = "Trailer cameras placed. Use Sequencer and Movie Pipeline to animate and render."
	trailerFailed    = "Trailer camera placement failed: "
)

// Shot is one trailer camera placement. Rotation is pitch, yaw, roll in
// degrees.
type Shot struct {
	Name     string
	Location [3]float64
	Rotation [3]float64
	FOV      float64
}

// EpicReveal is the default trailer: a wide open, a push in, a low hero
// angle, an orbit and a closing wide.
var EpicReveal = []Shot{
	{Name: "Wide Establishing", Location: [3]float64{-5000, 0, 2000}, Rotation: [3]float64{-15, 0, 0}, FOV: 90},
	{Name: "Slow Approach", Location: [3]float64{-3000, 500, 1000}, Rotation: [3]float64{-10, -10, 0}, FOV: 70},
	{Name: "Low Angle Hero", Location: [3]float64{-500, 0, 100}, Rotation: [3]float64{-30, 0, 0}, FOV: 50},
	{Name: "Dramatic Orbit", Location: [3]float64{0, -1000, 500}, Rotation: [3]float64{-10, 90, 0}, FOV: 60},
	{Name: "Final Wide", Location: [3]float64{2000, 0, 3000}, Rotation: [3]float64{-35, 180, 0}, FOV: 90},
}

// TrailerScript spawns one labelled cine camera per shot.
func TrailerScript(shots []Shot) string {
	var b strings.Builder
	b.WriteString("import unreal\n\n")
	b.WriteString("actors = unreal.get_editor_subsystem(unreal.EditorActorSubsystem)\n")
	b.WriteString("shots = [\n")
	for _, s := range shots {
		fmt.Fprintf(&b, "    (%q, (%g, %g, %g), (%g, %g, %g), %g),\n", s.Name,
			s.Location[0], s.Location[1], s.Location[2],
			s.Rotation[0], s.Rotation[1], s.Rotation[2], s.FOV)
	}
	b.WriteString("]\n")
	b.WriteString("for i, (name, loc, rot, fov) in enumerate(shots):\n")
	b.WriteString("    cam = actors.spawn_actor_from_class(unreal.CineCameraActor, unreal.Vector(*loc), unreal.Rotator(pitch=rot[0], yaw=rot[1], roll=rot[2]))\n")
	b.WriteString("    if cam is None:\n")
	b.WriteString("        raise RuntimeError('could not spawn camera ' + name)\n")
	b.WriteString("    cam.get_cine_camera_component().set_field_of_view(fov)\n")
	b.WriteString("    cam.set_actor_label('TrailerCam_%d_%s' % (i + 1, name.replace(' ', '')))\n")
	b.WriteString("unreal.log('Placed %d trailer cameras' % len(shots))\n")
	return b.String()
}

// ScreenshotScript saves a high resolution viewport capture under the
// project's Saved directory and prints the marker line the relay records.
func ScreenshotScript(name string) string {
	var b strings.Builder
	b.WriteString("import unreal\n\n")
	fmt.Fprintf(&b, "path = unreal.Paths.project_saved_dir() + 'Screenshots/%s.png'\n", name)
	b.WriteString("unreal.AutomationLibrary.take_high_res_screenshot(1920, 1080, path)\n")
	fmt.Fprintf(&b, "unreal.log('%s' + path)\n", shared.ScreenshotMarker)
	return b.String()
}

// VisualReview is Morgan's verdict on the finished scene.
type VisualReview struct {
	Score    int    `json:"score"`
	Approved bool   `json:"approved"`
	Image    string `json:"image,omitempty"`
	Notes    string `json:"notes"`
}

var scoreRe = regexp.MustCompile(`(?i)SCORE:\s*(\d{1,2})`)

// ParseVisualReview reads the SCORE line and APPROVED flag from a reply.
// A reply without a score is approved only when it says so.
func ParseVisualReview(reply string) VisualReview {
	v := VisualReview{Notes: strings.TrimSpace(reply)}
	if m := scoreRe.FindStringSubmatch(reply); m != nil {
		v.Score, _ = strconv.Atoi(m[1])
	}
	v.Approved = strings.Contains(reply, "APPROVED") || v.Score >= passingScore
	return v
}

func visualPrompt(brief, image string, plan *Plan) string {
	var b strings.Builder
	b.WriteString("The build run has finished. Evaluate the scene against the brief.\n\n")
	fmt.Fprintf(&b, "Brief: %s\n", brief)
	fmt.Fprintf(&b, "Screenshot: %s\n\n", image)
	b.WriteString("Tasks:\n")
	for i, t := range plan.Tasks {
		fmt.Fprintf(&b, "%d. %s [%s]", i+1, t.Title, t.Status)
		if t.Error != "" {
			fmt.Fprintf(&b, " %s", shared.Truncate(t.Error, 120))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nReply with SCORE: 1-10, then ISSUES as a list. Write APPROVED if the score is 8 or more.\n")
	return b.String()
}

// visualCheck captures the viewport and asks Morgan to score it. The
// verdict is advisory and never changes task results.
func (o *Orchestrator) visualCheck(ctx context.Context, run *persistence.BuildRun, plan *Plan) {
	o.progress(ctx, run.ProjectID, fmt.Sprintf("Visual check… (%s)", agent.Morgan))
	out, err := o.queue.ExecuteAndWait(ctx, run.ProjectID, ScreenshotScript("run_"+run.ID), agent.Morgan)
	if err != nil || !out.Succeeded() {
		reason := orDefault(out.Error, "screenshot failed")
		if out.TimedOut {
			reason = "screenshot timed out waiting for relay"
		}
		o.system(ctx, run.ProjectID, "Visual check skipped: "+reason)
		o.event(ctx, run.ProjectID, "visual_check", agent.Morgan, "Skipped: "+reason)
		return
	}
	image := out.ScreenshotURL
	if image == "" {
		image = shared.ScreenshotPath(out.Result)
	}
	if image == "" {
		image = "(no path reported; the capture was saved under Saved/Screenshots)"
	}

	prompt := visualPrompt(run.Prompt, image, plan)
	reply, err := o.caller.Call(agent.WithPurpose(ctx, agent.PurposeVisual), agent.Morgan, prompt,
		o.projectContext(ctx, run.ProjectID, agent.Morgan, run.Prompt))
	if err != nil {
		o.logger.Warn("visual check call failed", "project_id", run.ProjectID, "run_id", run.ID, "error", err)
		o.event(ctx, run.ProjectID, "visual_check", agent.Morgan, "Skipped: "+err.Error())
		return
	}
	o.chat(ctx, run.ProjectID, agent.Morgan, "Visual Check", reply, persistence.TurnCritique)
	o.afterTurn(ctx, run.ProjectID, agent.Morgan, reply, prompt)

	v := ParseVisualReview(reply)
	v.Image = image
	verdict := "needs work"
	if v.Approved {
		verdict = "approved"
	}
	o.event(ctx, run.ProjectID, "visual_check", agent.Morgan, fmt.Sprintf("Score %d/10, %s (%s)", v.Score, verdict, image))
	o.logger.Info("visual check", "project_id", run.ProjectID, "run_id", run.ID, "score", v.Score, "approved", v.Approved)
}

// trailer places the EpicReveal cameras.
func (o *Orchestrator) trailer(ctx context.Context, run *persistence.BuildRun) {
	o.progress(ctx, run.ProjectID, fmt.Sprintf("Creating cinematic trailer… (%s)", agent.Thomas))
	out, err := o.queue.ExecuteAndWait(ctx, run.ProjectID, TrailerScript(EpicReveal), agent.Thomas)
	switch {
	case err == nil && out.Succeeded():
		o.progress(ctx, run.ProjectID, MsgTrailerPlaced)
		o.event(ctx, run.ProjectID, "trailer", agent.Thomas, fmt.Sprintf("Placed %d cameras", len(EpicReveal)))
	case out.TimedOut:
		o.system(ctx, run.ProjectID, trailerFailed+"timed out waiting for relay")
	default:
		o.system(ctx, run.ProjectID, trailerFailed+orDefault(out.Error, "execution failed"))
	}
}
